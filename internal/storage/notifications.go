package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/under-the-hammer/internal/model"
)

// RecordNotification appends one entry to the notification log.
func (s *SQLiteStorage) RecordNotification(ctx context.Context, entry *model.NotificationEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateEntry(entry); err != nil {
		return err
	}
	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_log (user_id, subject_key, kind, sent_at)
		VALUES (?, ?, ?, ?)
	`, entry.UserID, entry.SubjectKey, entry.Kind, entry.SentAt)
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}

	if id, idErr := result.LastInsertId(); idErr == nil {
		entry.ID = id
	}

	return nil
}

// HasNotificationSince reports whether a matching entry exists after the
// given time. With kindOnly set the subject key is ignored, which is how
// once-a-day kinds like the morning briefing are matched.
func (s *SQLiteStorage) HasNotificationSince(ctx context.Context, userID, subjectKey, kind string, since time.Time, kindOnly bool) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return false, err
	}
	if err := validateString(kind, "kind"); err != nil {
		return false, err
	}

	query := `
		SELECT COUNT(*) FROM notification_log
		WHERE user_id = ? AND kind = ? AND sent_at > ?
	`
	args := []any{userID, kind, since}
	if !kindOnly {
		query += ` AND subject_key = ?`
		args = append(args, subjectKey)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to query notification log: %w", err)
	}

	return count > 0, nil
}
