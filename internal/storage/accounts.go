package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Veraticus/under-the-hammer/internal/common"
	"github.com/Veraticus/under-the-hammer/internal/model"
)

// CreateSyncAccount stores a newly connected external account.
func (s *SQLiteStorage) CreateSyncAccount(ctx context.Context, account *model.SyncAccount) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAccount(account); err != nil {
		return err
	}

	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	var expiry sql.NullTime
	if !account.TokenExpiry.IsZero() {
		expiry = sql.NullTime{Time: account.TokenExpiry, Valid: true}
	}
	var lastSync sql.NullTime
	if account.LastSyncAt != nil {
		lastSync = sql.NullTime{Time: *account.LastSyncAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_accounts (
			id, user_id, provider, email, refresh_token, access_token,
			token_expiry, sync_enabled, last_sync_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		account.ID,
		account.UserID,
		string(account.Provider),
		account.Email,
		account.RefreshToken,
		account.AccessToken,
		expiry,
		account.SyncEnabled,
		lastSync,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync account %s: %w", account.ID, err)
	}

	return nil
}

// GetSyncAccount retrieves one account by id.
func (s *SQLiteStorage) GetSyncAccount(ctx context.Context, id string) (*model.SyncAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, provider, email, refresh_token, access_token,
		       token_expiry, sync_enabled, last_sync_at, created_at, updated_at
		FROM sync_accounts
		WHERE id = ?
	`, id)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync account: %w", err)
	}

	return account, nil
}

// ListSyncEnabledAccounts returns every account with sync turned on.
func (s *SQLiteStorage) ListSyncEnabledAccounts(ctx context.Context) ([]model.SyncAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, provider, email, refresh_token, access_token,
		       token_expiry, sync_enabled, last_sync_at, created_at, updated_at
		FROM sync_accounts
		WHERE sync_enabled = 1
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.SyncAccount
	for rows.Next() {
		account, scanErr := scanAccount(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan sync account: %w", scanErr)
		}
		accounts = append(accounts, *account)
	}

	return accounts, rows.Err()
}

// ListSyncAccountsForUser returns every account a user has connected,
// including disabled ones.
func (s *SQLiteStorage) ListSyncAccountsForUser(ctx context.Context, userID string) ([]model.SyncAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, provider, email, refresh_token, access_token,
		       token_expiry, sync_enabled, last_sync_at, created_at, updated_at
		FROM sync_accounts
		WHERE user_id = ?
		ORDER BY created_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user sync accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.SyncAccount
	for rows.Next() {
		account, scanErr := scanAccount(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan sync account: %w", scanErr)
		}
		accounts = append(accounts, *account)
	}

	return accounts, rows.Err()
}

// UpdateAccountToken stores a refreshed access token and its expiry.
func (s *SQLiteStorage) UpdateAccountToken(ctx context.Context, id, accessToken string, expiry time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_accounts
		SET access_token = ?, token_expiry = ?, updated_at = ?
		WHERE id = ?
	`, accessToken, expiry, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update account token: %w", err)
	}

	return requireRowAffected(result)
}

// UpdateLastSyncAt records when an account last completed a sync.
func (s *SQLiteStorage) UpdateLastSyncAt(ctx context.Context, id string, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_accounts SET last_sync_at = ?, updated_at = ? WHERE id = ?
	`, at, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update last sync time: %w", err)
	}

	return requireRowAffected(result)
}

// SetSyncEnabled toggles whether the account participates in sync runs.
func (s *SQLiteStorage) SetSyncEnabled(ctx context.Context, id string, enabled bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_accounts SET sync_enabled = ?, updated_at = ? WHERE id = ?
	`, enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update sync enabled flag: %w", err)
	}

	return requireRowAffected(result)
}

func scanAccount(row scanner) (*model.SyncAccount, error) {
	var account model.SyncAccount
	var expiry sql.NullTime
	var lastSync sql.NullTime

	err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.Provider,
		&account.Email,
		&account.RefreshToken,
		&account.AccessToken,
		&expiry,
		&account.SyncEnabled,
		&lastSync,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if expiry.Valid {
		account.TokenExpiry = expiry.Time
	}
	if lastSync.Valid {
		account.LastSyncAt = &lastSync.Time
	}

	return &account, nil
}
