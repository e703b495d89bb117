package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Veraticus/under-the-hammer/internal/common"
	"github.com/Veraticus/under-the-hammer/internal/model"
)

// CreateDeal inserts a deal and any attached conditions.
func (s *SQLiteStorage) CreateDeal(ctx context.Context, deal *model.Deal) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDeal(deal); err != nil {
		return err
	}

	now := time.Now().UTC()
	if deal.StageEnteredAt.IsZero() {
		deal.StageEnteredAt = now
	}
	if deal.CreatedAt.IsZero() {
		deal.CreatedAt = now
	}
	deal.UpdatedAt = now
	if deal.Risk == "" {
		deal.Risk = model.RiskNone
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var settlement sql.NullTime
	if deal.SettlementDate != nil {
		settlement = sql.NullTime{Time: *deal.SettlementDate, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deals (
			id, user_id, address, pipeline, stage, stage_entered_at,
			risk, summary, settlement_date, archived, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		deal.ID,
		deal.UserID,
		deal.Address,
		string(deal.Pipeline),
		string(deal.Stage),
		deal.StageEnteredAt,
		string(deal.Risk),
		deal.Summary,
		settlement,
		deal.Archived,
		deal.CreatedAt,
		deal.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert deal %s: %w", deal.ID, err)
	}

	for i := range deal.Conditions {
		cond := &deal.Conditions[i]
		cond.DealID = deal.ID
		if err := insertCondition(ctx, tx, cond); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetDeal retrieves a deal with its conditions.
func (s *SQLiteStorage) GetDeal(ctx context.Context, id string) (*model.Deal, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	deal, err := s.getDealTx(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	conditions, err := s.getConditionsForDealsTx(ctx, s.db, []string{id})
	if err != nil {
		return nil, err
	}
	deal.Conditions = conditions[id]

	return deal, nil
}

func (s *SQLiteStorage) getDealTx(ctx context.Context, q queryable, id string) (*model.Deal, error) {
	var deal model.Deal
	var settlement sql.NullTime

	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, address, pipeline, stage, stage_entered_at,
		       risk, summary, settlement_date, archived, created_at, updated_at
		FROM deals
		WHERE id = ?
	`, id).Scan(
		&deal.ID,
		&deal.UserID,
		&deal.Address,
		&deal.Pipeline,
		&deal.Stage,
		&deal.StageEnteredAt,
		&deal.Risk,
		&deal.Summary,
		&settlement,
		&deal.Archived,
		&deal.CreatedAt,
		&deal.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deal: %w", err)
	}

	if settlement.Valid {
		deal.SettlementDate = &settlement.Time
	}

	return &deal, nil
}

// ListOpenDealsForUser retrieves a user's non-terminal, non-archived deals
// with their conditions attached.
func (s *SQLiteStorage) ListOpenDealsForUser(ctx context.Context, userID string) ([]model.Deal, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, address, pipeline, stage, stage_entered_at,
		       risk, summary, settlement_date, archived, created_at, updated_at
		FROM deals
		WHERE user_id = ? AND archived = 0 AND stage NOT IN (?, ?)
		ORDER BY created_at ASC, id ASC
	`, userID, string(model.StageSettled), string(model.StageNurture))
	if err != nil {
		return nil, fmt.Errorf("failed to query deals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var deals []model.Deal
	var ids []string
	for rows.Next() {
		var deal model.Deal
		var settlement sql.NullTime
		if err := rows.Scan(
			&deal.ID,
			&deal.UserID,
			&deal.Address,
			&deal.Pipeline,
			&deal.Stage,
			&deal.StageEnteredAt,
			&deal.Risk,
			&deal.Summary,
			&settlement,
			&deal.Archived,
			&deal.CreatedAt,
			&deal.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan deal: %w", err)
		}
		if settlement.Valid {
			deal.SettlementDate = &settlement.Time
		}
		deals = append(deals, deal)
		ids = append(ids, deal.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(deals) == 0 {
		return deals, nil
	}

	conditions, err := s.getConditionsForDealsTx(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range deals {
		deals[i].Conditions = conditions[deals[i].ID]
	}

	return deals, nil
}

// ListUserIDsWithOpenDeals returns the distinct owners of open deals, for
// the scanner to iterate.
func (s *SQLiteStorage) ListUserIDsWithOpenDeals(ctx context.Context) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id
		FROM deals
		WHERE archived = 0 AND stage NOT IN (?, ?)
		ORDER BY user_id ASC
	`, string(model.StageSettled), string(model.StageNurture))
	if err != nil {
		return nil, fmt.Errorf("failed to query deal owners: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, userID)
	}

	return userIDs, rows.Err()
}

// UpdateDealStage moves a deal to a new stage, enforcing transition rules.
// The stage entry timestamp resets so staleness tracking starts over.
func (s *SQLiteStorage) UpdateDealStage(ctx context.Context, id string, stage model.Stage, reopen bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	if !stage.IsValid() {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidDeal, stage)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current model.Stage
	err = tx.QueryRowContext(ctx, `SELECT stage FROM deals WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return common.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get current stage: %w", err)
	}

	if !model.CanTransition(current, stage, reopen) {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, current, stage)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE deals
		SET stage = ?, stage_entered_at = ?, updated_at = ?
		WHERE id = ?
	`, string(stage), time.Now().UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update deal stage: %w", err)
	}

	return tx.Commit()
}

// UpdateDealRisk sets a deal's risk level.
func (s *SQLiteStorage) UpdateDealRisk(ctx context.Context, id string, risk model.RiskLevel) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	if !risk.IsValid() {
		return fmt.Errorf("%w: unknown risk %q", ErrInvalidDeal, risk)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE deals SET risk = ?, updated_at = ? WHERE id = ?
	`, string(risk), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update deal risk: %w", err)
	}

	return requireRowAffected(result)
}

// SetDealSummary replaces a deal's summary text.
func (s *SQLiteStorage) SetDealSummary(ctx context.Context, id string, summary string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE deals SET summary = ?, updated_at = ? WHERE id = ?
	`, summary, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update deal summary: %w", err)
	}

	return requireRowAffected(result)
}

// AddCondition attaches a condition to an existing deal.
func (s *SQLiteStorage) AddCondition(ctx context.Context, cond *model.Condition) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateCondition(cond); err != nil {
		return err
	}
	if cond.Status == "" {
		cond.Status = model.ConditionPending
	}

	return insertCondition(ctx, s.db, cond)
}

func insertCondition(ctx context.Context, q queryable, cond *model.Condition) error {
	if cond.Status == "" {
		cond.Status = model.ConditionPending
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO conditions (id, deal_id, type, label, status, due_date)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		cond.ID,
		cond.DealID,
		string(cond.Type),
		cond.Label,
		string(cond.Status),
		cond.DueDate,
	)
	if err != nil {
		return fmt.Errorf("failed to insert condition %s: %w", cond.ID, err)
	}
	return nil
}

// UpdateConditionStatus moves a condition through its lifecycle.
func (s *SQLiteStorage) UpdateConditionStatus(ctx context.Context, id string, status model.ConditionStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	switch status {
	case model.ConditionPending, model.ConditionSatisfied, model.ConditionWaived:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidCondition, status)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE conditions SET status = ? WHERE id = ?
	`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update condition status: %w", err)
	}

	return requireRowAffected(result)
}

// getConditionsForDealsTx loads conditions for a set of deals in one query.
func (s *SQLiteStorage) getConditionsForDealsTx(ctx context.Context, q queryable, dealIDs []string) (map[string][]model.Condition, error) {
	if len(dealIDs) == 0 {
		return map[string][]model.Condition{}, nil
	}

	placeholders := "?"
	args := []any{dealIDs[0]}
	for _, id := range dealIDs[1:] {
		placeholders += ", ?"
		args = append(args, id)
	}

	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, deal_id, type, label, status, due_date
		FROM conditions
		WHERE deal_id IN (%s)
		ORDER BY due_date ASC, id ASC
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conditions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	conditions := make(map[string][]model.Condition)
	for rows.Next() {
		var cond model.Condition
		if err := rows.Scan(
			&cond.ID,
			&cond.DealID,
			&cond.Type,
			&cond.Label,
			&cond.Status,
			&cond.DueDate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan condition: %w", err)
		}
		conditions[cond.DealID] = append(conditions[cond.DealID], cond)
	}

	return conditions, rows.Err()
}

// requireRowAffected converts a zero-row update into ErrNotFound.
func requireRowAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return common.ErrNotFound
	}
	return nil
}
