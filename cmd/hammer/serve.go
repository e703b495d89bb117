package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/under-the-hammer/internal/config"
	"github.com/Veraticus/under-the-hammer/internal/events"
	"github.com/Veraticus/under-the-hammer/internal/scheduler"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the background daemon",
		Long: `Run the scheduler daemon: periodic deadline scans, morning briefing
checks, and mailbox syncs, until interrupted.

All intervals come from the scheduler section of the config file.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
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
	notifier := events.NewLogNotifier(bus, nil)

	scn, err := buildScanner(cfg, store, notifier)
	if err != nil {
		return err
	}

	engine, err := buildSyncEngine(cfg, store, bus)
	if err != nil {
		return err
	}

	sched, err := scheduler.New(scn, engine, nil, scheduler.Config{
		Location:              cfg.Scheduler.Location(),
		ScanInterval:          cfg.Scheduler.ScanInterval,
		InitialScanDelay:      cfg.Scheduler.InitialScanDelay,
		BriefingCheckInterval: cfg.Scheduler.BriefingCheckInterval,
		SyncInterval:          cfg.Scheduler.SyncInterval,
		BriefingHour:          cfg.Scheduler.BriefingHour,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	slog.Info("🔨 hammer daemon running",
		"scan_interval", cfg.Scheduler.ScanInterval,
		"sync_interval", cfg.Scheduler.SyncInterval,
		"briefing_hour", cfg.Scheduler.BriefingHour,
		"timezone", cfg.Scheduler.Timezone)

	<-ctx.Done()

	slog.Info("Shutting down...")
	sched.Stop()

	return nil
}
