package model

import (
	"fmt"
	"time"
)

// Provider identifies an external mail provider.
type Provider string

const (
	// ProviderGmail syncs through the Gmail API.
	ProviderGmail Provider = "gmail"
	// ProviderMicrosoft syncs through the Microsoft Graph API.
	ProviderMicrosoft Provider = "microsoft"
	// ProviderYahoo syncs through Yahoo IMAP with OAuth.
	ProviderYahoo Provider = "yahoo"
)

// String returns the provider as a string.
func (p Provider) String() string {
	return string(p)
}

// IsValid reports whether the provider is a known value.
func (p Provider) IsValid() bool {
	switch p {
	case ProviderGmail, ProviderMicrosoft, ProviderYahoo:
		return true
	}
	return false
}

// SyncAccount is one connected external account. Retry counters and the
// in-flight flag are engine state, not persisted here.
type SyncAccount struct {
	TokenExpiry  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastSyncAt   *time.Time
	ID           string
	UserID       string
	Email        string
	RefreshToken string
	AccessToken  string
	Provider     Provider
	SyncEnabled  bool
}

// Validate checks the fields a sync requires. The batch driver filters out
// accounts that fail this rather than aborting the whole batch.
func (a *SyncAccount) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("account missing id")
	}
	if a.UserID == "" {
		return fmt.Errorf("account %s missing user id", a.ID)
	}
	if !a.Provider.IsValid() {
		return fmt.Errorf("account %s has unknown provider %q", a.ID, a.Provider)
	}
	if a.Email == "" {
		return fmt.Errorf("account %s missing email", a.ID)
	}
	if a.RefreshToken == "" {
		return fmt.Errorf("account %s missing refresh token", a.ID)
	}
	return nil
}
