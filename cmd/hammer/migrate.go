package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/under-the-hammer/internal/cli"
	"github.com/Veraticus/under-the-hammer/internal/config"
	"github.com/Veraticus/under-the-hammer/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

Commands that open the database migrate automatically; this command
exists for checking schema status and running migrations by hand.`,
		RunE: runMigrate,
	}

	// Flags
	cmd.Flags().Bool("status", false, "show schema version without applying changes")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	status, _ := cmd.Flags().GetBool("status")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer closeStorage(store)

	if status {
		version, err := store.SchemaVersion(ctx)
		if err != nil {
			return err
		}

		content := fmt.Sprintf(`Database: %s
Current version: %d
Latest version: %d`,
			cfg.Database.Path,
			version,
			storage.ExpectedSchemaVersion)
		fmt.Println(cli.RenderBox("🗄️  Schema Status", content)) //nolint:forbidigo // User-facing output

		if version < storage.ExpectedSchemaVersion {
			fmt.Println(cli.FormatWarning("Schema is behind: run 'hammer migrate' to update")) //nolint:forbidigo // User-facing output
		}
		return nil
	}

	slog.Info("🗄️  Running database migrations...", "database", cfg.Database.Path)

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Println(cli.FormatSuccess("Database migrations completed")) //nolint:forbidigo // User-facing output

	return nil
}
