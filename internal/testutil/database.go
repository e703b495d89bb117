// Package testutil provides shared test utilities for the hammer project.
// It offers in-memory database setup with proper test isolation and helpers
// for seeding domain fixtures.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/service"
	"github.com/Veraticus/under-the-hammer/internal/storage"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage service.Storage
	t       *testing.T
}

// SetupTestDB creates a new in-memory test database. It automatically
// handles migrations and cleanup.
//
// Example:
//
//	db := testutil.SetupTestDB(t)
//	db.MustCreateDeal(testutil.NewDeal("deal-1", "user-1", model.StageConditional))
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{
		Storage: store,
		t:       t,
	}
}

// MustCreateDeal inserts a deal or fails the test.
func (db *TestDB) MustCreateDeal(deal *model.Deal) *model.Deal {
	db.t.Helper()
	if err := db.Storage.CreateDeal(context.Background(), deal); err != nil {
		db.t.Fatalf("failed to create deal %s: %v", deal.ID, err)
	}
	return deal
}

// MustCreateAccount inserts a sync account or fails the test.
func (db *TestDB) MustCreateAccount(account *model.SyncAccount) *model.SyncAccount {
	db.t.Helper()
	if err := db.Storage.CreateSyncAccount(context.Background(), account); err != nil {
		db.t.Fatalf("failed to create account %s: %v", account.ID, err)
	}
	return account
}

// MustUpsertThread stores a parsed thread or fails the test.
func (db *TestDB) MustUpsertThread(userID, accountID string, provider model.Provider, parsed model.ParsedThread) *model.Thread {
	db.t.Helper()
	thread, _, err := db.Storage.UpsertThread(context.Background(), userID, accountID, provider, parsed)
	if err != nil {
		db.t.Fatalf("failed to upsert thread %s: %v", parsed.ExternalID, err)
	}
	return thread
}

// NewDeal builds a valid deal fixture in the given stage.
func NewDeal(id, userID string, stage model.Stage) *model.Deal {
	return &model.Deal{
		ID:             id,
		UserID:         userID,
		Address:        fmt.Sprintf("1 Example Terrace (%s)", id),
		Pipeline:       model.PipelineBuyer,
		Stage:          stage,
		StageEnteredAt: time.Now().UTC(),
	}
}

// NewCondition builds a pending condition fixture due at the given time.
func NewCondition(id, dealID string, condType model.ConditionType, due time.Time) model.Condition {
	return model.Condition{
		ID:      id,
		DealID:  dealID,
		Type:    condType,
		Label:   string(condType),
		Status:  model.ConditionPending,
		DueDate: due,
	}
}

// NewAccount builds a valid sync account fixture.
func NewAccount(id, userID string, provider model.Provider) *model.SyncAccount {
	return &model.SyncAccount{
		ID:           id,
		UserID:       userID,
		Provider:     provider,
		Email:        fmt.Sprintf("%s@example.com", id),
		RefreshToken: "test-refresh-token",
		AccessToken:  "test-access-token",
		TokenExpiry:  time.Now().UTC().Add(time.Hour),
		SyncEnabled:  true,
	}
}

// NewParsedThread builds a one-message parsed thread fixture.
func NewParsedThread(externalID string, lastMessageAt time.Time) model.ParsedThread {
	return model.ParsedThread{
		ExternalID:    externalID,
		Subject:       "Re: offer on 1 Example Terrace",
		Participants:  []string{"agent@example.com", "client@example.com"},
		LastMessageAt: lastMessageAt,
		Messages: []model.ParsedMessage{
			{
				ExternalID: externalID + "-m1",
				From:       "client@example.com",
				To:         []string{"agent@example.com"},
				Snippet:    "Any update on the finance condition?",
				SentAt:     lastMessageAt,
			},
		},
	}
}
