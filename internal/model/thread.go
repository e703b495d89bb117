package model

import "time"

// Category says who owes the next reply in a conversation.
type Category string

const (
	// CategoryFocus means the agent owes a reply.
	CategoryFocus Category = "focus"
	// CategoryWaiting means the other party owes a reply.
	CategoryWaiting Category = "waiting"
	// CategoryNone means the thread has not been classified yet.
	CategoryNone Category = ""
)

// IsValid reports whether the category is a known value.
func (c Category) IsValid() bool {
	return c == CategoryFocus || c == CategoryWaiting || c == CategoryNone
}

// Thread is one conversation synced from an external mail provider.
// Category and risk are set by classification; the core only reads them.
type Thread struct {
	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DealID        *string
	ID            string
	UserID        string
	AccountID     string
	ExternalID    string
	Subject       string
	Summary       string
	Provider      Provider
	Category      Category
	Risk          RiskLevel
	Participants  []string
}

// Message is one message inside a synced thread.
type Message struct {
	SentAt     time.Time
	ID         string
	ThreadID   string
	ExternalID string
	From       string
	Snippet    string
	To         []string
}

// ParsedThread is the canonical shape every provider connector normalizes
// its responses into. The sync engine depends on this shape only.
type ParsedThread struct {
	LastMessageAt time.Time
	ExternalID    string
	Subject       string
	Summary       string
	Participants  []string
	Messages      []ParsedMessage
}

// ParsedMessage is the canonical per-message shape at the connector boundary.
type ParsedMessage struct {
	SentAt     time.Time
	ExternalID string
	From       string
	Snippet    string
	To         []string
}
