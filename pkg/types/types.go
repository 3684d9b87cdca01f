package types

import "time"

// AccountStatus describes the sync state persisted on an account record.
type AccountStatus string

const (
	StatusIdle      AccountStatus = "idle"
	StatusSyncing   AccountStatus = "syncing"
	StatusError     AccountStatus = "error"
	StatusThrottled AccountStatus = "throttled"
)

// Account represents a mailbox account under synchronization
type Account struct {
	ID                     int64         `json:"id" db:"id"`
	Name                   string        `json:"name" db:"name"`
	UserID                 string        `json:"user_id" db:"user_id"`
	IMAPHost               string        `json:"imap_host" db:"imap_host"`
	IMAPPort               int           `json:"imap_port" db:"imap_port"`
	IMAPUsername           string        `json:"imap_username" db:"imap_username"`
	IMAPPassword           string        `json:"-" db:"imap_password"`
	Active                 bool          `json:"active" db:"active"`
	NeedsReconnection      bool          `json:"needs_reconnection" db:"needs_reconnection"`
	InitialSyncCompleted   bool          `json:"initial_sync_completed" db:"initial_sync_completed"`
	NotificationsEnabledAt *time.Time    `json:"notifications_enabled_at,omitempty" db:"notifications_enabled_at"`
	Status                 AccountStatus `json:"status" db:"status"`
	StatusMessage          string        `json:"status_message" db:"status_message"`
	CreatedAt              time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at" db:"updated_at"`
}

// Syncable reports whether the account has the fields required to open
// an IMAP session.
func (a *Account) Syncable() bool {
	return a.Active && a.IMAPHost != "" && a.IMAPUsername != "" && a.IMAPPassword != ""
}

// Cursor tracks the highest message UID already synchronized for one
// (account, folder) pair, together with the last server-reported total.
type Cursor struct {
	AccountID   int64      `json:"account_id" db:"account_id"`
	Folder      string     `json:"folder" db:"folder"`
	LastUID     uint32     `json:"last_uid" db:"last_uid"`
	Total       uint32     `json:"total" db:"total"`
	InitialDone bool       `json:"initial_done" db:"initial_done"`
	SyncedAt    *time.Time `json:"synced_at,omitempty" db:"synced_at"`
}

// Message is the canonical message record written by the sync engine.
// (account_id, folder, uid) is the idempotency key.
type Message struct {
	ID              int64        `json:"id" db:"id"`
	AccountID       int64        `json:"account_id" db:"account_id"`
	Folder          string       `json:"folder" db:"folder"`
	UID             uint32       `json:"uid" db:"uid"`
	SenderName      string       `json:"sender_name" db:"sender_name"`
	SenderEmail     string       `json:"sender_email" db:"sender_email"`
	RecipientEmail  string       `json:"recipient_email" db:"recipient_email"`
	Subject         string       `json:"subject" db:"subject"`
	BodyText        string       `json:"body_text,omitempty" db:"body_text"`
	BodyHTML        string       `json:"body_html,omitempty" db:"body_html"`
	Date            time.Time    `json:"date" db:"date"`
	Read            bool         `json:"read" db:"is_read"`
	Starred         bool         `json:"starred" db:"starred"`
	Attachments     []Attachment `json:"attachments,omitempty" db:"-"`
	AttachmentCount int          `json:"attachment_count" db:"attachment_count"`
	Deleted         bool         `json:"deleted" db:"deleted"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

// Attachment holds attachment metadata only; content stays on the server.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	ContentID   string `json:"content_id,omitempty"`
}

// SyncLog is one append-only record per folder-sync attempt.
type SyncLog struct {
	ID         string    `json:"id" db:"id"`
	AccountID  int64     `json:"account_id" db:"account_id"`
	Folder     string    `json:"folder" db:"folder"`
	Fetched    int       `json:"fetched" db:"fetched"`
	Saved      int       `json:"saved" db:"saved"`
	Updated    int       `json:"updated" db:"updated"`
	Errors     int       `json:"errors" db:"errors"`
	DurationMS int64     `json:"duration_ms" db:"duration_ms"`
	Error      string    `json:"error,omitempty" db:"error"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
