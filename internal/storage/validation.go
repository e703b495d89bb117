// Package storage provides the data persistence layer for the hammer application.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/under-the-hammer/internal/model"
)

// Validation errors.
var (
	ErrNilContext       = errors.New("context cannot be nil")
	ErrEmptyString      = errors.New("string parameter cannot be empty")
	ErrNilParameter     = errors.New("parameter cannot be nil")
	ErrInvalidDeal      = errors.New("invalid deal")
	ErrInvalidCondition = errors.New("invalid condition")
	ErrInvalidThread    = errors.New("invalid thread")
	ErrInvalidAccount   = errors.New("invalid sync account")
	ErrInvalidTouch     = errors.New("invalid nurture touch")
	ErrInvalidEntry     = errors.New("invalid notification entry")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateDeal validates a deal before insertion.
func validateDeal(deal *model.Deal) error {
	if deal == nil {
		return fmt.Errorf("%w: deal", ErrNilParameter)
	}
	if deal.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidDeal)
	}
	if deal.UserID == "" {
		return fmt.Errorf("%w: missing user ID", ErrInvalidDeal)
	}
	if strings.TrimSpace(deal.Address) == "" {
		return fmt.Errorf("%w: missing address", ErrInvalidDeal)
	}
	if !deal.Pipeline.IsValid() {
		return fmt.Errorf("%w: unknown pipeline %q", ErrInvalidDeal, deal.Pipeline)
	}
	if !deal.Stage.IsValid() {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidDeal, deal.Stage)
	}
	if deal.Risk != "" && !deal.Risk.IsValid() {
		return fmt.Errorf("%w: unknown risk %q", ErrInvalidDeal, deal.Risk)
	}
	return nil
}

// validateCondition validates a condition before insertion.
func validateCondition(cond *model.Condition) error {
	if cond == nil {
		return fmt.Errorf("%w: condition", ErrNilParameter)
	}
	if cond.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidCondition)
	}
	if cond.DealID == "" {
		return fmt.Errorf("%w: missing deal ID", ErrInvalidCondition)
	}
	if cond.Type == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidCondition)
	}
	if cond.DueDate.IsZero() {
		return fmt.Errorf("%w: missing due date", ErrInvalidCondition)
	}
	return nil
}

// validateParsedThread validates a connector result before upsert.
func validateParsedThread(parsed *model.ParsedThread) error {
	if parsed == nil {
		return fmt.Errorf("%w: parsed thread", ErrNilParameter)
	}
	if parsed.ExternalID == "" {
		return fmt.Errorf("%w: missing external ID", ErrInvalidThread)
	}
	if parsed.LastMessageAt.IsZero() {
		return fmt.Errorf("%w: missing last message time", ErrInvalidThread)
	}
	return nil
}

// validateAccount validates a sync account before insertion.
func validateAccount(account *model.SyncAccount) error {
	if account == nil {
		return fmt.Errorf("%w: account", ErrNilParameter)
	}
	if err := account.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	return nil
}

// validateTouch validates a nurture touch before insertion.
func validateTouch(touch *model.NurtureTouch) error {
	if touch == nil {
		return fmt.Errorf("%w: touch", ErrNilParameter)
	}
	if touch.UserID == "" {
		return fmt.Errorf("%w: missing user ID", ErrInvalidTouch)
	}
	if touch.DealID == "" {
		return fmt.Errorf("%w: missing deal ID", ErrInvalidTouch)
	}
	if touch.DueAt.IsZero() {
		return fmt.Errorf("%w: missing due time", ErrInvalidTouch)
	}
	return nil
}

// validateEntry validates a notification log entry before insertion.
func validateEntry(entry *model.NotificationEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: entry", ErrNilParameter)
	}
	if entry.UserID == "" {
		return fmt.Errorf("%w: missing user ID", ErrInvalidEntry)
	}
	if entry.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidEntry)
	}
	return nil
}
