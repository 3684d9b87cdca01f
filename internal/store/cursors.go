package store

import (
	"context"
	"fmt"
	"time"

	"github.com/brandon/mailsync/pkg/types"
)

// GetCursor returns the cursor for (account, folder), creating it with
// last_uid = 0 on first access. Creation is atomic: two callers racing on
// the same key both observe a single row.
func (s *Store) GetCursor(ctx context.Context, accountID int64, folder string) (*types.Cursor, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folder_cursors (account_id, folder)
		VALUES (?, ?)
		ON CONFLICT(account_id, folder) DO NOTHING`,
		accountID, folder)
	if err != nil {
		return nil, fmt.Errorf("failed to create cursor: %w", err)
	}

	var cur types.Cursor
	err = s.db.GetContext(ctx, &cur,
		"SELECT * FROM folder_cursors WHERE account_id = ? AND folder = ?",
		accountID, folder)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	return &cur, nil
}

// AdvanceCursor moves the cursor forward to max(lastUID, current) and
// records the latest server-reported total. The cursor never regresses,
// even if callers race or replay an older pass.
func (s *Store) AdvanceCursor(ctx context.Context, accountID int64, folder string, lastUID, total uint32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folder_cursors (account_id, folder)
		VALUES (?, ?)
		ON CONFLICT(account_id, folder) DO NOTHING`,
		accountID, folder)
	if err != nil {
		return fmt.Errorf("failed to ensure cursor: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE folder_cursors
		SET last_uid = MAX(last_uid, ?),
		    total = ?,
		    synced_at = ?
		WHERE account_id = ? AND folder = ?`,
		int64(lastUID), int64(total), time.Now().UTC(), accountID, folder)
	if err != nil {
		return fmt.Errorf("failed to advance cursor: %w", err)
	}
	return nil
}

// EligibleFolders lists folders whose initial full sync has completed and
// which are therefore eligible for incremental passes.
func (s *Store) EligibleFolders(ctx context.Context, accountID int64) ([]string, error) {
	var folders []string
	err := s.db.SelectContext(ctx, &folders,
		"SELECT folder FROM folder_cursors WHERE account_id = ? AND initial_done = 1 ORDER BY folder",
		accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible folders: %w", err)
	}
	return folders, nil
}

// MarkFolderBootstrapped records that the external one-time bootstrap has
// finished its full sync of the folder.
func (s *Store) MarkFolderBootstrapped(ctx context.Context, accountID int64, folder string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folder_cursors (account_id, folder, initial_done)
		VALUES (?, ?, 1)
		ON CONFLICT(account_id, folder) DO UPDATE SET initial_done = 1`,
		accountID, folder)
	if err != nil {
		return fmt.Errorf("failed to mark folder bootstrapped: %w", err)
	}
	return nil
}
