package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/under-the-hammer/internal/common"
	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/service"
)

// threadColumns is the SELECT list shared by every thread query.
const threadColumns = `id, user_id, account_id, external_id, provider, subject,
	summary, category, risk, deal_id, participants, last_message_at,
	created_at, updated_at`

// riskRank orders rows riskiest-first; ties break oldest-first so the
// longest-waiting thread surfaces. The CASE mirrors model.RiskLevel.Rank.
const riskRank = `CASE risk
	WHEN 'critical' THEN 4
	WHEN 'high' THEN 3
	WHEN 'medium' THEN 2
	WHEN 'low' THEN 1
	ELSE 0
END`

// UpsertThread stores a fetched thread keyed on (account, external id).
// Replaying the same thread updates it in place and reports isNew=false,
// so a retried sync never duplicates rows.
func (s *SQLiteStorage) UpsertThread(ctx context.Context, userID, accountID string, provider model.Provider, parsed model.ParsedThread) (*model.Thread, bool, error) {
	if err := validateContext(ctx); err != nil {
		return nil, false, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, false, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, false, err
	}
	if err := validateParsedThread(&parsed); err != nil {
		return nil, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var threadID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM threads WHERE account_id = ? AND external_id = ?
	`, accountID, parsed.ExternalID).Scan(&threadID)

	isNew := false
	switch {
	case err == sql.ErrNoRows:
		isNew = true
		threadID = uuid.New().String()

		participantsJSON, jsonErr := marshalStrings(parsed.Participants)
		if jsonErr != nil {
			return nil, false, jsonErr
		}

		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO threads (
				id, user_id, account_id, external_id, provider, subject,
				summary, category, risk, participants, last_message_at,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, '', 'none', ?, ?, ?, ?)
		`,
			threadID,
			userID,
			accountID,
			parsed.ExternalID,
			string(provider),
			parsed.Subject,
			parsed.Summary,
			participantsJSON,
			parsed.LastMessageAt,
			now,
			now,
		)
		if err != nil {
			return nil, false, fmt.Errorf("failed to insert thread: %w", err)
		}
	case err != nil:
		return nil, false, fmt.Errorf("failed to look up thread: %w", err)
	default:
		participantsJSON, jsonErr := marshalStrings(parsed.Participants)
		if jsonErr != nil {
			return nil, false, jsonErr
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE threads
			SET subject = ?, participants = ?, last_message_at = ?, updated_at = ?
			WHERE id = ?
		`, parsed.Subject, participantsJSON, parsed.LastMessageAt, time.Now().UTC(), threadID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to update thread: %w", err)
		}
	}

	if err := insertMessages(ctx, tx, threadID, parsed.Messages); err != nil {
		return nil, false, err
	}

	thread, err := s.getThreadTx(ctx, tx, threadID)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit thread upsert: %w", err)
	}

	return thread, isNew, nil
}

func insertMessages(ctx context.Context, tx *sql.Tx, threadID string, messages []model.ParsedMessage) error {
	if len(messages) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO messages (
			id, thread_id, external_id, sender, snippet, recipients, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, msg := range messages {
		recipientsJSON, jsonErr := marshalStrings(msg.To)
		if jsonErr != nil {
			return jsonErr
		}

		_, err = stmt.ExecContext(ctx,
			uuid.New().String(),
			threadID,
			msg.ExternalID,
			msg.From,
			msg.Snippet,
			recipientsJSON,
			msg.SentAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message %s: %w", msg.ExternalID, err)
		}
	}

	return nil
}

// GetThread retrieves a single thread by id.
func (s *SQLiteStorage) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getThreadTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getThreadTx(ctx context.Context, q queryable, id string) (*model.Thread, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE id = ?
	`, id)

	thread, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return thread, nil
}

// ListThreadsByCategory returns one page of a user's threads, riskiest
// first, and the total count matching the filter.
func (s *SQLiteStorage) ListThreadsByCategory(ctx context.Context, query service.ThreadListQuery) ([]model.Thread, int, error) {
	if err := validateContext(ctx); err != nil {
		return nil, 0, err
	}
	if err := validateString(query.UserID, "userID"); err != nil {
		return nil, 0, err
	}
	if !query.Category.IsValid() {
		return nil, 0, fmt.Errorf("%w: unknown category %q", ErrInvalidThread, query.Category)
	}

	where := `WHERE user_id = ? AND category = ?`
	args := []any{query.UserID, string(query.Category)}
	if query.RiskOnly {
		where += ` AND risk != 'none'`
	}

	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM threads `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count threads: %w", err)
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		`+where+`
		ORDER BY `+riskRank+` DESC, last_message_at ASC, id ASC
		LIMIT ? OFFSET ?
	`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query threads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var threads []model.Thread
	for rows.Next() {
		thread, scanErr := scanThread(rows)
		if scanErr != nil {
			return nil, 0, fmt.Errorf("failed to scan thread: %w", scanErr)
		}
		threads = append(threads, *thread)
	}

	return threads, total, rows.Err()
}

// CountThreads returns per-category totals plus the at-risk count, which
// is the waiting threads carrying any risk flag.
func (s *SQLiteStorage) CountThreads(ctx context.Context, userID string) (*service.ThreadCounts, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	var counts service.ThreadCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN category = 'focus' THEN 1 END),
			COUNT(CASE WHEN category = 'waiting' THEN 1 END),
			COUNT(CASE WHEN category = 'waiting' AND risk != 'none' THEN 1 END)
		FROM threads
		WHERE user_id = ?
	`, userID).Scan(&counts.Focus, &counts.Waiting, &counts.AtRisk)
	if err != nil {
		return nil, fmt.Errorf("failed to count threads: %w", err)
	}

	return &counts, nil
}

// UpdateThreadClassification stores the classifier's verdict for a thread.
func (s *SQLiteStorage) UpdateThreadClassification(ctx context.Context, id string, category model.Category, risk model.RiskLevel, summary string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	if !category.IsValid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidThread, category)
	}
	if !risk.IsValid() {
		return fmt.Errorf("%w: unknown risk %q", ErrInvalidThread, risk)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE threads
		SET category = ?, risk = ?, summary = ?, updated_at = ?
		WHERE id = ?
	`, string(category), string(risk), summary, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update thread classification: %w", err)
	}

	return requireRowAffected(result)
}

// scanner matches *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanThread(row scanner) (*model.Thread, error) {
	var thread model.Thread
	var dealID sql.NullString
	var participants sql.NullString

	err := row.Scan(
		&thread.ID,
		&thread.UserID,
		&thread.AccountID,
		&thread.ExternalID,
		&thread.Provider,
		&thread.Subject,
		&thread.Summary,
		&thread.Category,
		&thread.Risk,
		&dealID,
		&participants,
		&thread.LastMessageAt,
		&thread.CreatedAt,
		&thread.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if dealID.Valid {
		thread.DealID = &dealID.String
	}
	if participants.Valid && participants.String != "" {
		if err := json.Unmarshal([]byte(participants.String), &thread.Participants); err != nil {
			return nil, fmt.Errorf("failed to parse participants: %w", err)
		}
	}

	return &thread, nil
}

func marshalStrings(values []string) (string, error) {
	if len(values) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(data), nil
}
