package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/Veraticus/under-the-hammer/internal/config"
	"github.com/Veraticus/under-the-hammer/internal/creds"
	"github.com/Veraticus/under-the-hammer/internal/events"
	"github.com/Veraticus/under-the-hammer/internal/gmail"
	"github.com/Veraticus/under-the-hammer/internal/graph"
	"github.com/Veraticus/under-the-hammer/internal/imap"
	"github.com/Veraticus/under-the-hammer/internal/ledger"
	"github.com/Veraticus/under-the-hammer/internal/llm"
	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/nurture"
	"github.com/Veraticus/under-the-hammer/internal/scanner"
	"github.com/Veraticus/under-the-hammer/internal/service"
	"github.com/Veraticus/under-the-hammer/internal/storage"
	"github.com/Veraticus/under-the-hammer/internal/syncer"
)

// openStorage opens the configured SQLite database and runs migrations.
func openStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func closeStorage(store *storage.SQLiteStorage) {
	if err := store.Close(); err != nil {
		slog.Error("Failed to close storage", "error", err)
	}
}

// requireUser resolves the acting user id from the --user flag or the
// user.id config key.
func requireUser() (string, error) {
	userID := viper.GetString("user.id")
	if userID == "" {
		return "", fmt.Errorf("no user id: pass --user or set user.id in the config")
	}
	return userID, nil
}

// connectorFactory builds the mail connector for one account. Yahoo gets
// the account email because IMAP XOAUTH2 encodes it into the auth string.
func connectorFactory(account model.SyncAccount) (service.Connector, error) {
	switch account.Provider {
	case model.ProviderGmail:
		return gmail.NewClient(), nil
	case model.ProviderMicrosoft:
		return graph.NewClient(), nil
	case model.ProviderYahoo:
		return imap.NewClient(account.Email), nil
	default:
		return nil, fmt.Errorf("no connector for provider %q", account.Provider)
	}
}

// buildClassifier creates the LLM thread classifier, or returns nil when no
// API key is configured. Syncing works without one; threads just keep
// their heuristic category.
func buildClassifier(cfg *config.Config, store service.Storage) (service.ThreadClassifier, error) {
	if cfg.LLM.APIKey == "" {
		slog.Warn("No LLM API key configured, thread classification disabled")
		return nil, nil
	}
	classifier, err := llm.NewClassifier(llm.Config{
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		RateLimit: cfg.LLM.RequestsPerMinute,
	}, store, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}
	return classifier, nil
}

// buildSyncEngine wires the mailbox sync engine. The bus may be nil for
// one-shot commands that have no subscribers.
func buildSyncEngine(cfg *config.Config, store *storage.SQLiteStorage, bus *events.Bus) (*syncer.Engine, error) {
	classifier, err := buildClassifier(cfg, store)
	if err != nil {
		return nil, err
	}

	resolver := creds.NewResolver(store, cfg.Providers, nil)

	var publisher service.EventPublisher
	if bus != nil {
		publisher = bus
	}

	engine, err := syncer.New(store, resolver, connectorFactory, classifier, publisher, nil, syncer.Config{
		RetryDelays:   cfg.Sync.RetryDelays,
		MaxRetries:    cfg.Sync.MaxRetries,
		MaxConcurrent: cfg.Sync.MaxConcurrent,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync engine: %w", err)
	}
	return engine, nil
}

// buildScanner wires the deadline scanner with its ledger, nurture
// scheduler, and notifier.
func buildScanner(cfg *config.Config, store *storage.SQLiteStorage, notifier service.Notifier) (*scanner.Scanner, error) {
	led := ledger.New(store, nil)
	nurt := nurture.New(store, nil)

	scn, err := scanner.New(store, led, notifier, nurt, nil, scanner.Config{
		Location:           cfg.Scheduler.Location(),
		ConditionLeadDays:  cfg.Scanner.ConditionLeadDays,
		SettlementLeadDays: cfg.Scanner.SettlementLeadDays,
		StaleDealDays:      cfg.Scanner.StaleDealDays,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}
	return scn, nil
}
