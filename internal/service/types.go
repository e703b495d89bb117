package service

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Veraticus/under-the-hammer/internal/model"
)

// Event names emitted by the sync engine.
const (
	// EventSyncStarted fires when an account sync begins.
	EventSyncStarted = "sync.started"
	// EventSyncProgress fires as threads are fetched and merged.
	EventSyncProgress = "sync.progress"
	// EventSyncCompleted fires once per sync with the final outcome.
	EventSyncCompleted = "sync.completed"
	// EventThreadNew fires once per newly created thread.
	EventThreadNew = "thread.new"
	// EventNotificationCreated fires when a notification is handed to the
	// delivery transport.
	EventNotificationCreated = "notification.created"
)

// Event is a named broadcast scoped to one user.
type Event struct {
	At      time.Time
	Payload map[string]any
	Name    string
	UserID  string
}

// ThreadListQuery selects and pages one category of threads.
type ThreadListQuery struct {
	UserID   string
	Category model.Category
	RiskOnly bool
	Limit    int
	Offset   int
}

// ThreadCounts is the count-only statistics view over a user's threads.
type ThreadCounts struct {
	Focus   int
	Waiting int
	AtRisk  int
}

// ThreadPage is one ordered, bounded view of a user's threads.
type ThreadPage struct {
	Threads   []model.Thread
	Total     int
	Displayed int
	Offset    int
	HasMore   bool
}

// ScanStats reports what one user's deadline scan did.
type ScanStats struct {
	ConditionsChecked int
	ActionsTriggered  int
	NotificationsSent int
}

// Add accumulates another scan's stats.
func (s *ScanStats) Add(other ScanStats) {
	s.ConditionsChecked += other.ConditionsChecked
	s.ActionsTriggered += other.ActionsTriggered
	s.NotificationsSent += other.NotificationsSent
}

// ScanSummary aggregates a full multi-user scan tick.
type ScanSummary struct {
	StartedAt   time.Time
	Totals      ScanStats
	UsersOK     int
	UsersFailed int
	Duration    time.Duration
}

// BriefingSummary aggregates one morning-briefing tick.
type BriefingSummary struct {
	UsersChecked int
	Sent         int
	Failed       int
}

// SyncResult is the outcome of one account sync. SyncAccount never panics
// or returns an error past its boundary; callers get this instead.
type SyncResult struct {
	StartedAt        time.Time
	AccountID        string
	UserID           string
	Error            string
	Provider         model.Provider
	Attempts         int
	ThreadsProcessed int
	NewThreads       int
	Duration         time.Duration
	Success          bool
	AlreadyRunning   bool
}

// SkippedAccount records an account the batch driver filtered out.
type SkippedAccount struct {
	AccountID string
	Reason    string
}

// SyncBatch is the outcome of syncing every enabled account.
type SyncBatch struct {
	StartedAt time.Time
	Results   []SyncResult
	Skipped   []SkippedAccount
	Duration  time.Duration
}

// Succeeded counts the successful results in the batch.
func (b *SyncBatch) Succeeded() int {
	n := 0
	for _, r := range b.Results {
		if r.Success {
			n++
		}
	}
	return n
}

// RetryOptions configures retry behavior for operations. When Delays is
// set it is used as a fixed per-attempt wait schedule and the exponential
// fields are ignored.
type RetryOptions struct {
	Clock        clockwork.Clock
	Delays       []time.Duration
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// ProviderError is a normalized provider failure. It carries the three
// fields retryability classification inspects: message, code, and status.
type ProviderError struct {
	Provider model.Provider
	Code     string
	Message  string
	Status   int
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Message)
	switch {
	case e.Status > 0 && e.Code != "":
		return fmt.Sprintf("%s (status %d, code %s)", msg, e.Status, e.Code)
	case e.Status > 0:
		return fmt.Sprintf("%s (status %d)", msg, e.Status)
	case e.Code != "":
		return fmt.Sprintf("%s (code %s)", msg, e.Code)
	}
	return msg
}
