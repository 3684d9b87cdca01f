package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/imapx"
)

func TestExtractAddress(t *testing.T) {
	structured := []imapx.Address{{Name: "Alice", Email: "alice@example.com"}}

	tests := []struct {
		name       string
		display    string
		structured []imapx.Address
		wantName   string
		wantEmail  string
	}{
		{
			name:      "quoted display text",
			display:   `"Alice Smith" <alice@example.com>`,
			wantName:  "Alice Smith",
			wantEmail: "alice@example.com",
		},
		{
			name:      "unquoted display text",
			display:   "Alice Smith <alice@example.com>",
			wantName:  "Alice Smith",
			wantEmail: "alice@example.com",
		},
		{
			name:      "bare angle brackets",
			display:   "<alice@example.com>",
			wantName:  "",
			wantEmail: "alice@example.com",
		},
		{
			name:       "structured list when display does not parse",
			display:    "not an address",
			structured: structured,
			wantName:   "Alice",
			wantEmail:  "alice@example.com",
		},
		{
			name:       "structured list when display is empty",
			display:    "",
			structured: structured,
			wantName:   "Alice",
			wantEmail:  "alice@example.com",
		},
		{
			name:      "raw display as last resort",
			display:   "mailer-daemon",
			wantName:  "",
			wantEmail: "mailer-daemon",
		},
		{
			name:      "nothing available",
			display:   "",
			wantName:  "",
			wantEmail: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, email := extractAddress(tt.display, tt.structured)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantEmail, email)
		})
	}
}

func TestNormalizeMessageRejectsUnusable(t *testing.T) {
	var normErr *NormalizationError

	_, err := NormalizeMessage(nil, 1, "INBOX")
	require.ErrorAs(t, err, &normErr)

	_, err = NormalizeMessage(&imapx.RawMessage{UID: 0}, 1, "INBOX")
	require.ErrorAs(t, err, &normErr)
}

func TestNormalizeMessageSubject(t *testing.T) {
	raw := rawMessage(1)
	raw.Envelope.Subject = ""

	msg, err := NormalizeMessage(raw, 1, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, "(no subject)", msg.Subject)

	raw.Envelope.Subject = strings.Repeat("é", 300)
	msg, err = NormalizeMessage(raw, 1, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 255, len([]rune(msg.Subject)), "subject truncates on rune boundaries")
}

func TestNormalizeMessageFlags(t *testing.T) {
	raw := rawMessage(1)
	raw.Flags = []string{`\Seen`, `\Flagged`, `\Answered`}

	msg, err := NormalizeMessage(raw, 1, "INBOX")
	require.NoError(t, err)
	assert.True(t, msg.Read)
	assert.True(t, msg.Starred)

	raw.Flags = nil
	msg, err = NormalizeMessage(raw, 1, "INBOX")
	require.NoError(t, err)
	assert.False(t, msg.Read)
	assert.False(t, msg.Starred)
}

func TestNormalizeMessageDefaultsMissingDate(t *testing.T) {
	raw := rawMessage(1)
	raw.Envelope.Date = time.Time{}

	before := time.Now().UTC()
	msg, err := NormalizeMessage(raw, 1, "INBOX")
	require.NoError(t, err)
	assert.False(t, msg.Date.IsZero())
	assert.False(t, msg.Date.Before(before))
}

func TestNormalizeMessageKeysAndAddresses(t *testing.T) {
	raw := rawMessage(7)
	raw.Envelope.Date = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	msg, err := NormalizeMessage(raw, 42, "Archive")
	require.NoError(t, err)
	assert.Equal(t, int64(42), msg.AccountID)
	assert.Equal(t, "Archive", msg.Folder)
	assert.Equal(t, uint32(7), msg.UID)
	assert.Equal(t, "Alice", msg.SenderName)
	assert.Equal(t, "alice@example.com", msg.SenderEmail)
	assert.Equal(t, "bob@example.com", msg.RecipientEmail)
	assert.Equal(t, raw.Envelope.Date, msg.Date)
}

func TestNormalizeMessageParsesMIMEBody(t *testing.T) {
	raw := rawMessage(1)
	raw.Raw = []byte("From: alice@example.com\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: hello\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"plain text body\r\n")

	msg, err := NormalizeMessage(raw, 1, "INBOX")
	require.NoError(t, err)
	assert.Contains(t, msg.BodyText, "plain text body")
	assert.Empty(t, msg.Attachments)
}

func TestNormalizeMessageFallsBackToRawBody(t *testing.T) {
	raw := rawMessage(1)
	// Not a MIME message at all: the first line is not a header.
	raw.Raw = []byte("this is not a mime message\r\n\r\nbody")

	msg, err := NormalizeMessage(raw, 1, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, string(raw.Raw), msg.BodyText, "unparseable content is stored raw, not dropped")
}
