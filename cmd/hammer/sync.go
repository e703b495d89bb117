package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Veraticus/under-the-hammer/internal/cli"
	"github.com/Veraticus/under-the-hammer/internal/config"
	"github.com/Veraticus/under-the-hammer/internal/events"
	"github.com/Veraticus/under-the-hammer/internal/service"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync mail accounts now",
		Long: `Pull new conversation threads from connected mail accounts and merge
them into the thread list. Transient provider failures retry on the
configured delay schedule; auth failures stop immediately with
instructions for reconnecting.

Syncs every enabled account; pass --account to sync just one.`,
		RunE: runSync,
	}

	// Flags
	cmd.Flags().String("account", "", "sync a single account by id")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
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

	bus := events.NewBus()
	engine, err := buildSyncEngine(cfg, store, bus)
	if err != nil {
		return err
	}

	if accountID, _ := cmd.Flags().GetString("account"); accountID != "" {
		result := engine.SyncAccount(ctx, accountID)
		if err := printSyncResults([]service.SyncResult{result}, nil); err != nil {
			return err
		}
		if !result.Success && !result.AlreadyRunning {
			return fmt.Errorf("sync failed")
		}
		return nil
	}

	accounts, err := store.ListSyncEnabledAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(accounts) == 0 {
		fmt.Println(cli.InfoStyle.Render("No sync-enabled accounts. Use 'hammer accounts add' to connect one.")) //nolint:forbidigo // User-facing output
		return nil
	}

	bar := progressbar.NewOptions(len(accounts),
		progressbar.OptionSetWriter(os.Stdout),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Syncing accounts...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(os.Stdout); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)

	// Ctrl-C mid-batch keeps completed accounts; the interrupt handler
	// explains that before the process exits.
	interrupts := cli.NewInterruptHandler(os.Stdout)
	syncCtx := interrupts.HandleInterrupts(ctx, true)

	// Every completed account publishes sync.completed on its user's
	// channel; watch each distinct user to advance the bar.
	users := make(map[string]bool)
	for _, account := range accounts {
		users[account.UserID] = true
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	for userID := range users {
		ch, cancelSub := bus.Subscribe(userID, 64)
		go func() {
			defer cancelSub()
			for {
				select {
				case <-watchCtx.Done():
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					if ev.Name == service.EventSyncCompleted {
						if err := bar.Add(1); err != nil {
							slog.Warn("Failed to update progress bar", "error", err)
						}
					}
				}
			}
		}()
	}

	batch := engine.SyncAllAccounts(syncCtx)
	stopWatch()
	if err := bar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}

	if err := printSyncResults(batch.Results, batch.Skipped); err != nil {
		return err
	}

	if interrupts.WasInterrupted() {
		return nil
	}

	failed := len(batch.Results) - batch.Succeeded()
	if failed > 0 {
		fmt.Println(cli.FormatWarning(fmt.Sprintf("%d account(s) failed to sync", failed))) //nolint:forbidigo // User-facing output
	} else {
		fmt.Println(cli.FormatSuccess(fmt.Sprintf("%d account(s) synced in %s", batch.Succeeded(), batch.Duration.Round(time.Millisecond)))) //nolint:forbidigo // User-facing output
	}

	return nil
}

func printSyncResults(results []service.SyncResult, skipped []service.SkippedAccount) error {
	fmt.Println(cli.FormatTitle("🔨 Mailbox Sync")) //nolint:forbidigo // User-facing output
	fmt.Println()                                   //nolint:forbidigo // User-facing output

	// Create table writer
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	// Header
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
		headerStyle.Render("Account"),
		headerStyle.Render("Provider"),
		headerStyle.Render("Status"),
		headerStyle.Render("Threads"),
		headerStyle.Render("New"),
		headerStyle.Render("Duration")); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// Separator
	if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
		strings.Repeat("─", 8),
		strings.Repeat("─", 9),
		strings.Repeat("─", 7),
		strings.Repeat("─", 7),
		strings.Repeat("─", 4),
		strings.Repeat("─", 8)); err != nil {
		return fmt.Errorf("failed to write separator: %w", err)
	}

	// Data rows
	for _, r := range results {
		status := cli.SuccessStyle.Render("ok")
		switch {
		case r.AlreadyRunning:
			status = cli.WarningStyle.Render("running")
		case !r.Success:
			status = cli.ErrorStyle.Render("failed")
		}

		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			shortID(r.AccountID),
			r.Provider,
			status,
			r.ThreadsProcessed,
			r.NewThreads,
			r.Duration.Round(time.Millisecond)); err != nil {
			return fmt.Errorf("failed to write result row: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush table writer: %w", err)
	}

	// Errors go below the table; provider hints span multiple lines and
	// would wreck the column alignment.
	for _, r := range results {
		if r.Success || r.AlreadyRunning || r.Error == "" {
			continue
		}
		header := cli.FormatError(fmt.Sprintf("%s (%s)", shortID(r.AccountID), r.Provider))

		fmt.Println()        //nolint:forbidigo // User-facing output
		fmt.Println(header)  //nolint:forbidigo // User-facing output
		fmt.Println(r.Error) //nolint:forbidigo // User-facing output
	}

	for _, s := range skipped {
		fmt.Println(cli.FormatWarning(fmt.Sprintf("skipped %s: %s", shortID(s.AccountID), s.Reason))) //nolint:forbidigo // User-facing output
	}

	return nil
}

// shortID trims a UUID to its first block for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
