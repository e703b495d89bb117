package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/under-the-hammer/internal/cli"
	"github.com/Veraticus/under-the-hammer/internal/config"
	"github.com/Veraticus/under-the-hammer/internal/events"
)

func briefingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "briefing",
		Short: "Send the morning briefing now",
		Long: `Compose and send the daily summary for one user: conditions due today,
overdue items, at-risk deals, and pending nurture touches.

The once-a-day throttle still applies: if today's briefing already went
out, nothing is sent.`,
		RunE: runBriefing,
	}
}

func runBriefing(cmd *cobra.Command, _ []string) error {
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

	notifier := events.NewLogNotifier(nil, nil)
	scn, err := buildScanner(cfg, store, notifier)
	if err != nil {
		return err
	}

	sent, err := scn.SendMorningBriefing(ctx, userID)
	if err != nil {
		return fmt.Errorf("briefing failed: %w", err)
	}

	if sent {
		fmt.Println(cli.FormatSuccess("Morning briefing sent")) //nolint:forbidigo // User-facing output
	} else {
		fmt.Println(cli.FormatInfo("Nothing to send: either today's briefing already went out or the book is quiet")) //nolint:forbidigo // User-facing output
	}

	return nil
}
