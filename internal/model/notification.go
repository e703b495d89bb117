package model

import "time"

// Notification kinds. The kind selects the dedup suppression policy.
const (
	// KindConditionDeadline is a per-condition due-date reminder.
	KindConditionDeadline = "condition_deadline"
	// KindSettlementCountdown is a per-deal settlement reminder.
	KindSettlementCountdown = "settlement_countdown"
	// KindStaleDeal flags a deal stuck in one stage.
	KindStaleDeal = "stale_deal"
	// KindMorningBriefing is the once-a-day summary.
	KindMorningBriefing = "morning_briefing"
)

// NotificationEntry records that a notification of some kind about some
// subject was sent. Entries are append-only and never mutated.
type NotificationEntry struct {
	SentAt     time.Time
	UserID     string
	SubjectKey string
	Kind       string
	ID         int64
}

// Notification is the payload handed to the notification transport. The
// core does not know how delivery happens.
type Notification struct {
	Data               map[string]string
	Title              string
	Body               string
	Tag                string
	RequireInteraction bool
}
