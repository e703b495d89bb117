package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Veraticus/under-the-hammer/internal/cli"
	"github.com/Veraticus/under-the-hammer/internal/config"
	"github.com/Veraticus/under-the-hammer/internal/creds"
	"github.com/Veraticus/under-the-hammer/internal/model"
)

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage connected mail accounts",
		Long: `Connect, list, and toggle the mail accounts the sync engine pulls
threads from.`,
	}

	cmd.AddCommand(accountsListCmd())
	cmd.AddCommand(accountsAddCmd())
	cmd.AddCommand(accountsEnableCmd())
	cmd.AddCommand(accountsDisableCmd())

	return cmd
}

func accountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List connected accounts",
		RunE:  runAccountsList,
	}
}

func runAccountsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	userID, err := requireUser()
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage(store)

	accounts, err := store.ListSyncAccountsForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	if len(accounts) == 0 {
		fmt.Println(cli.InfoStyle.Render("No accounts connected. Use 'hammer accounts add' to connect one.")) //nolint:forbidigo // User-facing output
		return nil
	}

	fmt.Println(cli.FormatTitle("🔨 Connected Accounts")) //nolint:forbidigo // User-facing output
	fmt.Println()                                         //nolint:forbidigo // User-facing output

	// Create table writer
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	// Header
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
		headerStyle.Render("ID"),
		headerStyle.Render("Provider"),
		headerStyle.Render("Email"),
		headerStyle.Render("Sync"),
		headerStyle.Render("Last Sync")); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// Separator
	if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
		strings.Repeat("─", 36),
		strings.Repeat("─", 9),
		strings.Repeat("─", 24),
		strings.Repeat("─", 4),
		strings.Repeat("─", 16)); err != nil {
		return fmt.Errorf("failed to write separator: %w", err)
	}

	// Data rows
	for _, a := range accounts {
		sync := cli.SuccessStyle.Render("on")
		if !a.SyncEnabled {
			sync = cli.SubtleStyle.Render("off")
		}

		lastSync := "Never"
		if a.LastSyncAt != nil {
			lastSync = a.LastSyncAt.Format("2006-01-02 15:04")
		}

		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			a.ID,
			a.Provider,
			a.Email,
			sync,
			lastSync); err != nil {
			return fmt.Errorf("failed to write account row: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush table writer: %w", err)
	}

	return nil
}

func accountsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Connect a mail account",
		Long: `Run the OAuth flow for a mail provider in your browser and store the
resulting account. The provider must issue a refresh token; if it does
not, revoke the app's access in your provider settings and reconnect.`,
		RunE: runAccountsAdd,
	}

	// Flags
	cmd.Flags().String("provider", "", "mail provider (gmail, microsoft, yahoo)")
	cmd.Flags().String("email", "", "email address of the account")
	cmd.Flags().Int("port", 8484, "local port for the OAuth callback")
	_ = cmd.MarkFlagRequired("provider")

	return cmd
}

func runAccountsAdd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	userID, err := requireUser()
	if err != nil {
		return err
	}

	providerName, _ := cmd.Flags().GetString("provider")
	email, _ := cmd.Flags().GetString("email")
	port, _ := cmd.Flags().GetInt("port")

	provider := model.Provider(strings.ToLower(providerName))
	if !provider.IsValid() {
		return fmt.Errorf("unknown provider %q: use gmail, microsoft, or yahoo", providerName)
	}

	if email == "" {
		prompter := cli.NewPrompter(nil, nil)
		email, err = prompter.ReadLine(ctx, "Email address for this account: ")
		if err != nil {
			return err
		}
		if email == "" {
			return fmt.Errorf("email address is required")
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage(store)

	resolver := creds.NewResolver(store, cfg.Providers, nil)

	account, err := resolver.ConnectInteractive(ctx, creds.ConnectOptions{
		Provider: provider,
		UserID:   userID,
		Email:    email,
		Port:     port,
	})
	if err != nil {
		return fmt.Errorf("failed to connect account: %w", err)
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Connected %s (%s)", account.Email, account.Provider))) //nolint:forbidigo // User-facing output
	fmt.Println(cli.FormatInfo(fmt.Sprintf("Account id: %s", account.ID)))                            //nolint:forbidigo // User-facing output

	return nil
}

func accountsEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <account-id>",
		Short: "Enable syncing for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setSyncEnabled(cmd, args[0], true)
		},
	}
}

func accountsDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <account-id>",
		Short: "Disable syncing for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setSyncEnabled(cmd, args[0], false)
		},
	}
}

func setSyncEnabled(cmd *cobra.Command, accountID string, enabled bool) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage(store)

	if err := store.SetSyncEnabled(ctx, accountID, enabled); err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	if enabled {
		fmt.Println(cli.FormatSuccess(fmt.Sprintf("Sync enabled for %s", shortID(accountID)))) //nolint:forbidigo // User-facing output
	} else {
		fmt.Println(cli.FormatSuccess(fmt.Sprintf("Sync disabled for %s", shortID(accountID)))) //nolint:forbidigo // User-facing output
	}

	return nil
}
