package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/brandon/mailsync/pkg/types"
)

// InsertSyncLog appends one activity record for a folder-sync attempt.
// The log is write-only from the engine's perspective.
func (s *Store) InsertSyncLog(ctx context.Context, entry *types.SyncLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_logs (id, account_id, folder, fetched, saved, updated, errors, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.AccountID, entry.Folder,
		entry.Fetched, entry.Saved, entry.Updated, entry.Errors,
		entry.DurationMS, entry.Error)
	if err != nil {
		return fmt.Errorf("failed to insert sync log: %w", err)
	}
	return nil
}
