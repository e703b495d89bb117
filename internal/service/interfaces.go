// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/under-the-hammer/internal/model"
)

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Deal operations
	CreateDeal(ctx context.Context, deal *model.Deal) error
	GetDeal(ctx context.Context, id string) (*model.Deal, error)
	ListOpenDealsForUser(ctx context.Context, userID string) ([]model.Deal, error)
	ListUserIDsWithOpenDeals(ctx context.Context) ([]string, error)
	UpdateDealStage(ctx context.Context, id string, stage model.Stage, reopen bool) error
	UpdateDealRisk(ctx context.Context, id string, risk model.RiskLevel) error
	SetDealSummary(ctx context.Context, id string, summary string) error

	// Condition operations
	AddCondition(ctx context.Context, cond *model.Condition) error
	UpdateConditionStatus(ctx context.Context, id string, status model.ConditionStatus) error

	// Thread operations
	UpsertThread(ctx context.Context, userID, accountID string, provider model.Provider, parsed model.ParsedThread) (*model.Thread, bool, error)
	GetThread(ctx context.Context, id string) (*model.Thread, error)
	ListThreadsByCategory(ctx context.Context, query ThreadListQuery) ([]model.Thread, int, error)
	CountThreads(ctx context.Context, userID string) (*ThreadCounts, error)
	UpdateThreadClassification(ctx context.Context, id string, category model.Category, risk model.RiskLevel, summary string) error

	// Notification log operations
	RecordNotification(ctx context.Context, entry *model.NotificationEntry) error
	HasNotificationSince(ctx context.Context, userID, subjectKey, kind string, since time.Time, kindOnly bool) (bool, error)

	// Sync account operations
	CreateSyncAccount(ctx context.Context, account *model.SyncAccount) error
	GetSyncAccount(ctx context.Context, id string) (*model.SyncAccount, error)
	ListSyncEnabledAccounts(ctx context.Context) ([]model.SyncAccount, error)
	UpdateAccountToken(ctx context.Context, id, accessToken string, expiry time.Time) error
	UpdateLastSyncAt(ctx context.Context, id string, at time.Time) error
	SetSyncEnabled(ctx context.Context, id string, enabled bool) error

	// Nurture operations
	CreateNurtureTouch(ctx context.Context, touch *model.NurtureTouch) error
	CompleteNurtureTouch(ctx context.Context, id int64, at time.Time) error
	CountPendingNurtureTouches(ctx context.Context, userID string, dueBy time.Time) (int, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// Connector fetches conversation threads from one external mail provider.
// Implementations normalize provider responses into model.ParsedThread at
// this boundary; nothing above it sees provider wire formats.
type Connector interface {
	FetchThreads(ctx context.Context, accessToken string, since *time.Time) ([]model.ParsedThread, error)
}

// CredentialResolver produces a currently-valid access token for an
// account, refreshing transparently when the stored token is near expiry.
type CredentialResolver interface {
	GetValidAccessToken(ctx context.Context, accountID string) (string, error)
}

// Notifier delivers a notification to a user. Delivery mechanics (push,
// email, in-app) are outside the core.
type Notifier interface {
	SendNotification(ctx context.Context, userID string, n model.Notification) error
}

// EventPublisher broadcasts named events scoped to a user id.
type EventPublisher interface {
	Publish(userID string, event Event)
}

// ThreadClassifier assigns category and risk to stored threads. Callers
// treat it as best-effort; its failure never fails a sync.
type ThreadClassifier interface {
	BatchProcessThreads(ctx context.Context, threadIDs []string) error
}

// NurtureScheduler reports how many nurture touches a user has pending.
type NurtureScheduler interface {
	CountPendingTouches(ctx context.Context, userID string) (int, error)
}
