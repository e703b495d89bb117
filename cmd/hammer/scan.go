package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/under-the-hammer/internal/cli"
	"github.com/Veraticus/under-the-hammer/internal/config"
	"github.com/Veraticus/under-the-hammer/internal/events"
)

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run a deadline scan now",
		Long: `Walk open deals looking for conditions coming due, settlements
approaching, and deals that have gone quiet. Notifications go through
the dedup ledger, so re-running a scan never re-sends what an earlier
scan already sent today.

Scans every user; pass --user to scan just one.`,
		RunE: runScan,
	}
}

func runScan(cmd *cobra.Command, _ []string) error {
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

	notifier := events.NewLogNotifier(nil, nil)
	scn, err := buildScanner(cfg, store, notifier)
	if err != nil {
		return err
	}

	userID, _ := cmd.Flags().GetString("user")
	if userID != "" {
		stats, err := scn.ScanUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}

		content := fmt.Sprintf(`Conditions checked: %d
Actions triggered: %d
Notifications sent: %d`,
			stats.ConditionsChecked,
			stats.ActionsTriggered,
			stats.NotificationsSent)
		fmt.Println(cli.RenderBox(fmt.Sprintf("🔨 Deadline Scan (%s)", userID), content)) //nolint:forbidigo // User-facing output
		return nil
	}

	summary := scn.ScanAllUsers(ctx)

	content := fmt.Sprintf(`Users scanned: %d (%d failed)
Conditions checked: %d
Actions triggered: %d
Notifications sent: %d
Duration: %s`,
		summary.UsersOK+summary.UsersFailed,
		summary.UsersFailed,
		summary.Totals.ConditionsChecked,
		summary.Totals.ActionsTriggered,
		summary.Totals.NotificationsSent,
		summary.Duration.Round(time.Millisecond))
	fmt.Println(cli.RenderBox("🔨 Deadline Scan", content)) //nolint:forbidigo // User-facing output

	if summary.UsersFailed > 0 {
		fmt.Println(cli.FormatWarning(fmt.Sprintf("%d user(s) failed to scan, check the logs", summary.UsersFailed))) //nolint:forbidigo // User-facing output
	}

	return nil
}
