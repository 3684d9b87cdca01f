package engine

import (
	"bytes"
	"fmt"
	"regexp"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/brandon/mailsync/internal/imapx"
	"github.com/brandon/mailsync/pkg/types"
)

const (
	// maxSubjectLength bounds the subject to fit storage constraints.
	maxSubjectLength = 255

	missingSubjectPlaceholder = "(no subject)"

	flagSeen    = `\Seen`
	flagFlagged = `\Flagged`
)

// displayAddressPattern matches the `"Name" <address>` rendering some
// providers hand back instead of a structured address list.
var displayAddressPattern = regexp.MustCompile(`^\s*"?([^"<]*?)"?\s*<([^<>\s]+@[^<>\s]+)>\s*$`)

// addressStrategy attempts to extract one (name, email) pair from a
// header that may arrive as display text, a structured list, or both.
// Strategies are pure and tried in order, short-circuiting on first match.
type addressStrategy func(display string, structured []imapx.Address) (name, email string, ok bool)

var addressStrategies = []addressStrategy{
	// Preferred: parse `"Name" <address>` out of the display text.
	func(display string, _ []imapx.Address) (string, string, bool) {
		m := displayAddressPattern.FindStringSubmatch(display)
		if m == nil {
			return "", "", false
		}
		return m[1], m[2], true
	},
	// First structured entry.
	func(_ string, structured []imapx.Address) (string, string, bool) {
		if len(structured) == 0 || structured[0].Email == "" {
			return "", "", false
		}
		return structured[0].Name, structured[0].Email, true
	},
	// Raw display text as a last resort before giving up.
	func(display string, _ []imapx.Address) (string, string, bool) {
		if display == "" {
			return "", "", false
		}
		return "", display, true
	},
}

// extractAddress runs the strategy chain, falling through to empty
// strings when nothing matches.
func extractAddress(display string, structured []imapx.Address) (name, email string) {
	for _, strategy := range addressStrategies {
		if n, e, ok := strategy(display, structured); ok {
			return n, e
		}
	}
	return "", ""
}

// NormalizeMessage converts one transport-layer message into a canonical
// record. A failure here is a per-message error: the caller counts it and
// skips the message, never retries it.
func NormalizeMessage(raw *imapx.RawMessage, accountID int64, folder string) (*types.Message, error) {
	if raw == nil {
		return nil, &NormalizationError{Err: fmt.Errorf("nil message")}
	}
	if raw.UID == 0 {
		return nil, &NormalizationError{Err: fmt.Errorf("message has no server identifier")}
	}

	senderName, senderEmail := extractAddress(raw.Envelope.FromDisplay, raw.Envelope.From)
	_, recipientEmail := extractAddress(raw.Envelope.ToDisplay, raw.Envelope.To)

	subject := raw.Envelope.Subject
	if subject == "" {
		subject = missingSubjectPlaceholder
	}
	if runes := []rune(subject); len(runes) > maxSubjectLength {
		subject = string(runes[:maxSubjectLength])
	}

	date := raw.Envelope.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}

	msg := &types.Message{
		AccountID:      accountID,
		Folder:         folder,
		UID:            raw.UID,
		SenderName:     senderName,
		SenderEmail:    senderEmail,
		RecipientEmail: recipientEmail,
		Subject:        subject,
		Date:           date,
		Read:           hasFlag(raw.Flags, flagSeen),
		Starred:        hasFlag(raw.Flags, flagFlagged),
	}

	if len(raw.Raw) > 0 {
		env, err := enmime.ReadEnvelope(bytes.NewReader(raw.Raw))
		if err == nil {
			msg.BodyText = env.Text
			msg.BodyHTML = env.HTML
			for _, part := range env.Attachments {
				msg.Attachments = append(msg.Attachments, types.Attachment{
					Name:        part.FileName,
					ContentType: part.ContentType,
					Size:        len(part.Content),
					ContentID:   part.ContentID,
				})
			}
			msg.AttachmentCount = len(msg.Attachments)
		} else {
			// Partially structured content still gets stored; treat the
			// raw bytes as the plain-text body.
			msg.BodyText = string(raw.Raw)
		}
	}

	return msg, nil
}

// hasFlag reports flag membership at the moment of fetch.
func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}
