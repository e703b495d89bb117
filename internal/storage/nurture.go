package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Veraticus/under-the-hammer/internal/model"
)

// CreateNurtureTouch schedules a follow-up for a parked deal. The touch's
// ID is set from the inserted row.
func (s *SQLiteStorage) CreateNurtureTouch(ctx context.Context, touch *model.NurtureTouch) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTouch(touch); err != nil {
		return err
	}

	var completed sql.NullTime
	if touch.CompletedAt != nil {
		completed = sql.NullTime{Time: *touch.CompletedAt, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO nurture_touches (user_id, deal_id, note, due_at, completed_at)
		VALUES (?, ?, ?, ?, ?)
	`, touch.UserID, touch.DealID, touch.Note, touch.DueAt, completed)
	if err != nil {
		return fmt.Errorf("failed to insert nurture touch: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read nurture touch id: %w", err)
	}
	touch.ID = id

	return nil
}

// CompleteNurtureTouch marks a touch done at the given time.
func (s *SQLiteStorage) CompleteNurtureTouch(ctx context.Context, id int64, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE nurture_touches SET completed_at = ? WHERE id = ? AND completed_at IS NULL
	`, at, id)
	if err != nil {
		return fmt.Errorf("failed to complete nurture touch: %w", err)
	}

	return requireRowAffected(result)
}

// CountPendingNurtureTouches counts a user's incomplete touches due by the
// given time.
func (s *SQLiteStorage) CountPendingNurtureTouches(ctx context.Context, userID string, dueBy time.Time) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM nurture_touches
		WHERE user_id = ? AND completed_at IS NULL AND due_at <= ?
	`, userID, dueBy).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count nurture touches: %w", err)
	}

	return count, nil
}
