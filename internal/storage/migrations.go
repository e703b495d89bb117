package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS deals (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					address TEXT NOT NULL,
					pipeline TEXT NOT NULL,
					stage TEXT NOT NULL,
					stage_entered_at DATETIME NOT NULL,
					risk TEXT NOT NULL DEFAULT 'none',
					summary TEXT NOT NULL DEFAULT '',
					settlement_date DATETIME,
					archived BOOLEAN NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_deals_user ON deals(user_id)`,
				`CREATE INDEX idx_deals_stage ON deals(stage)`,

				`CREATE TABLE IF NOT EXISTS conditions (
					id TEXT PRIMARY KEY,
					deal_id TEXT NOT NULL,
					type TEXT NOT NULL,
					label TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT 'pending',
					due_date DATETIME NOT NULL,
					FOREIGN KEY (deal_id) REFERENCES deals(id)
				)`,
				`CREATE INDEX idx_conditions_deal ON conditions(deal_id)`,
				`CREATE INDEX idx_conditions_due ON conditions(due_date)`,

				`CREATE TABLE IF NOT EXISTS threads (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					account_id TEXT NOT NULL,
					external_id TEXT NOT NULL,
					provider TEXT NOT NULL,
					subject TEXT NOT NULL DEFAULT '',
					summary TEXT NOT NULL DEFAULT '',
					category TEXT NOT NULL DEFAULT '',
					risk TEXT NOT NULL DEFAULT 'none',
					deal_id TEXT,
					participants TEXT,
					last_message_at DATETIME NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(account_id, external_id)
				)`,
				`CREATE INDEX idx_threads_user_category ON threads(user_id, category)`,
				`CREATE INDEX idx_threads_last_message ON threads(last_message_at)`,

				`CREATE TABLE IF NOT EXISTS messages (
					id TEXT PRIMARY KEY,
					thread_id TEXT NOT NULL,
					external_id TEXT NOT NULL,
					sender TEXT NOT NULL DEFAULT '',
					snippet TEXT NOT NULL DEFAULT '',
					recipients TEXT,
					sent_at DATETIME NOT NULL,
					UNIQUE(thread_id, external_id),
					FOREIGN KEY (thread_id) REFERENCES threads(id)
				)`,
				`CREATE INDEX idx_messages_thread ON messages(thread_id)`,

				`CREATE TABLE IF NOT EXISTS notification_log (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id TEXT NOT NULL,
					subject_key TEXT NOT NULL DEFAULT '',
					kind TEXT NOT NULL,
					sent_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_notification_log_subject ON notification_log(user_id, subject_key)`,

				`CREATE TABLE IF NOT EXISTS sync_accounts (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					provider TEXT NOT NULL,
					email TEXT NOT NULL,
					refresh_token TEXT NOT NULL,
					access_token TEXT NOT NULL DEFAULT '',
					token_expiry DATETIME,
					sync_enabled BOOLEAN NOT NULL DEFAULT 1,
					last_sync_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_sync_accounts_user ON sync_accounts(user_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Add nurture touches for parked deals",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS nurture_touches (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id TEXT NOT NULL,
					deal_id TEXT NOT NULL,
					note TEXT NOT NULL DEFAULT '',
					due_at DATETIME NOT NULL,
					completed_at DATETIME,
					FOREIGN KEY (deal_id) REFERENCES deals(id)
				)`,
				`CREATE INDEX idx_nurture_touches_user ON nurture_touches(user_id, due_at)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Optimize notification log indexes",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				// The dedup lookup always filters on kind and sent_at as well
				`CREATE INDEX IF NOT EXISTS idx_notification_log_lookup ON notification_log(user_id, kind, subject_key, sent_at)`,
				`DROP INDEX IF EXISTS idx_notification_log_subject`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
	{
		Version:     4,
		Description: "Keep updated_at current via triggers",
		Up: func(tx *sql.Tx) error {
			for _, table := range []string{"deals", "threads", "sync_accounts"} {
				query := fmt.Sprintf(`
					CREATE TRIGGER update_%s_updated_at
					AFTER UPDATE ON %s
					FOR EACH ROW
					BEGIN
						UPDATE %s SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
					END
				`, table, table, table)
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to create updated_at trigger for %s: %w", table, err)
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Get current version
	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	// Apply migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		// Update version
		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	// Verify we're at the expected schema version
	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion reports the database's current schema version without
// applying migrations.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
