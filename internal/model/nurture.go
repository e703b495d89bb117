package model

import "time"

// NurtureTouch is one scheduled follow-up for a parked deal.
type NurtureTouch struct {
	DueAt       time.Time
	CompletedAt *time.Time
	UserID      string
	DealID      string
	Note        string
	ID          int64
}

// Pending reports whether the touch is still owed as of the given time.
func (t *NurtureTouch) Pending(now time.Time) bool {
	return t.CompletedAt == nil && !t.DueAt.After(now)
}
