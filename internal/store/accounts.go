package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/pkg/types"
)

// UpsertAccount inserts or refreshes an account from configuration and
// returns its ID. Sync state columns (status, flags, cursors) are left
// untouched on update.
func (s *Store) UpsertAccount(ctx context.Context, acc *config.AccountConfig) (int64, error) {
	query := `
		INSERT INTO accounts (name, user_id, imap_host, imap_port, imap_username, imap_password, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			user_id = excluded.user_id,
			imap_host = excluded.imap_host,
			imap_port = excluded.imap_port,
			imap_username = excluded.imap_username,
			imap_password = excluded.imap_password,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := s.db.ExecContext(ctx, query,
		acc.Name, acc.UserID, acc.IMAPHost, acc.IMAPPort, acc.IMAPUsername, acc.IMAPPassword)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert account: %w", err)
	}

	var id int64
	if err := s.db.GetContext(ctx, &id, "SELECT id FROM accounts WHERE name = ?", acc.Name); err != nil {
		return 0, fmt.Errorf("failed to get account ID: %w", err)
	}
	return id, nil
}

// GetAccount returns the account by ID, or nil if it no longer exists.
func (s *Store) GetAccount(ctx context.Context, id int64) (*types.Account, error) {
	var acc types.Account
	err := s.db.GetContext(ctx, &acc, "SELECT * FROM accounts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &acc, nil
}

// ListActiveAccounts returns all active accounts in creation order.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]types.Account, error) {
	var accounts []types.Account
	err := s.db.SelectContext(ctx, &accounts,
		"SELECT * FROM accounts WHERE active = 1 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// UpdateAccountStatus persists the account status together with a
// human-readable message describing the last cycle outcome.
func (s *Store) UpdateAccountStatus(ctx context.Context, id int64, status types.AccountStatus, message string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET status = ?, status_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		string(status), message, id)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	return nil
}

// SetNeedsReconnection flags (or clears) the account as requiring a
// manual re-authorization before it can sync again.
func (s *Store) SetNeedsReconnection(ctx context.Context, id int64, needs bool) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET needs_reconnection = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		needs, id)
	if err != nil {
		return fmt.Errorf("failed to update reconnection flag: %w", err)
	}
	return nil
}

// CompleteInitialSync flips the initial-sync-completed flag and the
// notifications-enabled timestamp exactly once per account. The guard on
// initial_sync_completed makes concurrent orchestrator runs race safely:
// exactly one caller observes true.
func (s *Store) CompleteInitialSync(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET initial_sync_completed = 1,
		    notifications_enabled_at = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND initial_sync_completed = 0`,
		at, id)
	if err != nil {
		return false, fmt.Errorf("failed to complete initial sync: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}
