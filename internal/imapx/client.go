package imapx

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/pkg/types"
)

// operationTimeout bounds every IMAP round-trip so no single step can
// block a cycle indefinitely.
const operationTimeout = 30 * time.Second

// IMAPDialer dials TLS IMAP connections.
type IMAPDialer struct {
	logger *logrus.Logger
}

// NewIMAPDialer creates a dialer that logs through the given logger.
func NewIMAPDialer(logger *logrus.Logger) *IMAPDialer {
	return &IMAPDialer{logger: logger}
}

// Dial connects and authenticates against the account's IMAP endpoint.
func (d *IMAPDialer) Dial(ctx context.Context, account *types.Account) (Conn, error) {
	addr := fmt.Sprintf("%s:%d", account.IMAPHost, account.IMAPPort)

	dialer := &net.Dialer{Timeout: operationTimeout, KeepAlive: 30 * time.Second}
	cl, err := client.DialWithDialerTLS(dialer, addr, &tls.Config{
		ServerName: account.IMAPHost,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	cl.Timeout = operationTimeout

	if err := cl.Login(account.IMAPUsername, account.IMAPPassword); err != nil {
		d.logger.WithError(err).WithField("account", account.Name).Error("Failed to login to IMAP server")
		cl.Logout() //nolint:errcheck
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	d.logger.WithField("account", account.Name).Info("Connected to IMAP server")
	return &imapConn{client: cl, logger: d.logger}, nil
}

// imapConn wraps a go-imap client connection.
type imapConn struct {
	client *client.Client
	logger *logrus.Logger
}

// OpenFolder selects a folder and returns its total message count.
func (c *imapConn) OpenFolder(name string) (uint32, error) {
	mbox, err := c.client.Select(name, false)
	if err != nil {
		return 0, fmt.Errorf("failed to select folder: %w", err)
	}
	return mbox.Messages, nil
}

// EnumerateUIDs returns every UID in the selected folder.
func (c *imapConn) EnumerateUIDs() ([]uint32, error) {
	uids, err := c.client.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate messages: %w", err)
	}
	return uids, nil
}

// FetchMessage fetches one message by UID with flags and full content.
func (c *imapConn) FetchMessage(uid uint32) (*RawMessage, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid, imap.FetchRFC822}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var raw *RawMessage
	for msg := range messages {
		raw = c.toRawMessage(msg)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message %d: %w", uid, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("message %d not returned by server", uid)
	}
	return raw, nil
}

// toRawMessage converts a go-imap message into the transport record.
func (c *imapConn) toRawMessage(msg *imap.Message) *RawMessage {
	raw := &RawMessage{
		UID:   msg.Uid,
		Flags: append([]string{}, msg.Flags...),
	}

	if msg.Envelope != nil {
		raw.Envelope.Subject = msg.Envelope.Subject
		raw.Envelope.Date = msg.Envelope.Date
		for _, addr := range msg.Envelope.From {
			raw.Envelope.From = append(raw.Envelope.From, Address{
				Name:  addr.PersonalName,
				Email: addr.Address(),
			})
		}
		for _, addr := range msg.Envelope.To {
			raw.Envelope.To = append(raw.Envelope.To, Address{
				Name:  addr.PersonalName,
				Email: addr.Address(),
			})
		}
	}

	// The body arrives as an IMAP literal keyed in one of several ways
	// depending on the server.
	for _, literal := range msg.Body {
		body := readLiteral(literal)
		if len(body) > 0 {
			raw.Raw = body
			break
		}
	}

	return raw
}

// Probe performs a NOOP round-trip.
func (c *imapConn) Probe() error {
	if err := c.client.Noop(); err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}
	return nil
}

// Authenticated reports whether the protocol session is authenticated.
func (c *imapConn) Authenticated() bool {
	return c.client.State()&imap.AuthenticatedState != 0
}

// Close logs out and tears down the connection.
func (c *imapConn) Close() error {
	return c.client.Logout()
}

// readLiteral drains an IMAP literal into a byte slice.
func readLiteral(literal imap.Literal) []byte {
	if literal == nil {
		return nil
	}
	body := make([]byte, 0, 8192)
	buf := make([]byte, 1024)
	for {
		n, err := literal.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
	}
	return body
}

var _ Dialer = (*IMAPDialer)(nil)
var _ Conn = (*imapConn)(nil)
