// Package ledger decides whether a notification may be sent or is a
// duplicate of one sent recently. Every send is recorded; every candidate
// is checked against the recorded history first.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/service"
)

// Policy is the suppression rule for one notification kind.
type Policy struct {
	// Window is how long after a send a matching candidate stays suppressed.
	Window time.Duration
	// KindOnly matches on kind alone, ignoring the subject key. Used for
	// once-a-day kinds where the subject varies but the send should not.
	KindOnly bool
}

// policies maps each notification kind to its suppression rule.
var policies = map[string]Policy{
	model.KindConditionDeadline:   {Window: 24 * time.Hour},
	model.KindSettlementCountdown: {Window: 24 * time.Hour},
	model.KindStaleDeal:           {Window: 168 * time.Hour},
	model.KindMorningBriefing:     {Window: 20 * time.Hour, KindOnly: true},
}

// Ledger answers dedup questions against the persisted notification log.
type Ledger struct {
	storage service.Storage
	clock   clockwork.Clock
}

// New creates a ledger backed by the given storage. A nil clock uses the
// real one.
func New(storage service.Storage, clock clockwork.Clock) *Ledger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ledger{
		storage: storage,
		clock:   clock,
	}
}

// ShouldNotify reports whether a notification of the given kind about the
// given subject may be sent now. When the log cannot be read the answer is
// no: a missed notification is recoverable on the next cycle, a duplicate
// is not.
func (l *Ledger) ShouldNotify(ctx context.Context, userID, subjectKey, kind string) bool {
	policy, ok := policies[kind]
	if !ok {
		slog.Error("No suppression policy for notification kind", "kind", kind)
		return false
	}

	since := l.clock.Now().Add(-policy.Window)
	sent, err := l.storage.HasNotificationSince(ctx, userID, subjectKey, kind, since, policy.KindOnly)
	if err != nil {
		slog.Error("Failed to check notification log, suppressing",
			"user_id", userID,
			"kind", kind,
			"subject_key", subjectKey,
			"error", err)
		return false
	}

	return !sent
}

// Record appends a send to the log. Recording is best-effort; a failure
// is logged and the notification itself still counts as delivered.
func (l *Ledger) Record(ctx context.Context, userID, subjectKey, kind string) {
	entry := &model.NotificationEntry{
		UserID:     userID,
		SubjectKey: subjectKey,
		Kind:       kind,
		SentAt:     l.clock.Now().UTC(),
	}
	if err := l.storage.RecordNotification(ctx, entry); err != nil {
		slog.Error("Failed to record notification",
			"user_id", userID,
			"kind", kind,
			"subject_key", subjectKey,
			"error", err)
	}
}

// Window returns the suppression window for a kind, or zero when the kind
// is unknown.
func Window(kind string) time.Duration {
	return policies[kind].Window
}
