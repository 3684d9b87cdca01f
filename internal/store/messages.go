package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/brandon/mailsync/pkg/types"
)

// UpsertAction reports whether an upsert created a new row or refreshed
// an existing one.
type UpsertAction string

const (
	ActionInserted UpsertAction = "inserted"
	ActionUpdated  UpsertAction = "updated"
)

// UpsertMessage writes a canonical message record idempotently, keyed by
// (account_id, folder, uid). The insert uses ON CONFLICT DO NOTHING so a
// concurrent writer landing first is not an error: zero rows affected is
// the explicit "row already exists" signal, and the call degrades to a
// flag-only update. Only ActionInserted results should trigger downstream
// notification.
func (s *Store) UpsertMessage(ctx context.Context, m *types.Message) (UpsertAction, int64, error) {
	attachmentsJSON, err := json.Marshal(m.Attachments)
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal attachments: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (
			account_id, folder, uid,
			sender_name, sender_email, recipient_email,
			subject, body_text, body_html, date,
			is_read, starred, attachments, attachment_count, deleted
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, folder, uid) DO NOTHING`,
		m.AccountID, m.Folder, int64(m.UID),
		m.SenderName, m.SenderEmail, m.RecipientEmail,
		m.Subject, m.BodyText, m.BodyHTML, m.Date,
		m.Read, m.Starred, string(attachmentsJSON), m.AttachmentCount, m.Deleted)
	if err != nil {
		return "", 0, fmt.Errorf("failed to insert message: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", 0, fmt.Errorf("failed to read rows affected: %w", err)
	}

	if n > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return "", 0, fmt.Errorf("failed to read inserted id: %w", err)
		}
		return ActionInserted, id, nil
	}

	// Row already existed; re-observation only refreshes the flags.
	_, err = s.db.ExecContext(ctx, `
		UPDATE messages
		SET is_read = ?, starred = ?, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = ? AND folder = ? AND uid = ?`,
		m.Read, m.Starred, m.AccountID, m.Folder, int64(m.UID))
	if err != nil {
		return "", 0, fmt.Errorf("failed to update message flags: %w", err)
	}

	var id int64
	err = s.db.GetContext(ctx, &id,
		"SELECT id FROM messages WHERE account_id = ? AND folder = ? AND uid = ?",
		m.AccountID, m.Folder, int64(m.UID))
	if err != nil {
		return "", 0, fmt.Errorf("failed to get message id: %w", err)
	}
	return ActionUpdated, id, nil
}

// GetMessage retrieves a message by its idempotency key, or nil when no
// such row exists.
func (s *Store) GetMessage(ctx context.Context, accountID int64, folder string, uid uint32) (*types.Message, error) {
	var row struct {
		types.Message
		AttachmentsJSON string `db:"attachments"`
	}
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM messages WHERE account_id = ? AND folder = ? AND uid = ?",
		accountID, folder, int64(uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	msg := row.Message
	if row.AttachmentsJSON != "" {
		if err := json.Unmarshal([]byte(row.AttachmentsJSON), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
		}
	}
	return &msg, nil
}

// CountMessages reports how many messages are stored for an account.
func (s *Store) CountMessages(ctx context.Context, accountID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM messages WHERE account_id = ?", accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}
