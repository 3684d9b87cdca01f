package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/imapx"
	"github.com/brandon/mailsync/internal/store"
	"github.com/brandon/mailsync/pkg/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testClassifier() *Classifier {
	return NewClassifier(
		[]string{"authentication failed", "invalid credentials", "login failed"},
		[]string{"too many requests", "rate limit", "throttling"},
		[]string{"no such mailbox", "doesn't exist"},
		[]string{"connection reset", "broken pipe"},
	)
}

func newEngineStore(t *testing.T) (*store.Store, int64) {
	t.Helper()
	s, err := store.NewStore(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	id, err := s.UpsertAccount(context.Background(), &config.AccountConfig{
		Name:         "work",
		UserID:       "user-1",
		IMAPHost:     "imap.example.com",
		IMAPPort:     993,
		IMAPUsername: "work@example.com",
		IMAPPassword: "secret",
	})
	require.NoError(t, err)
	return s, id
}

func testAccount(id int64) *types.Account {
	return &types.Account{
		ID:           id,
		Name:         "work",
		UserID:       "user-1",
		IMAPHost:     "imap.example.com",
		IMAPPort:     993,
		IMAPUsername: "work@example.com",
		IMAPPassword: "secret",
		Active:       true,
	}
}

// fakeConn is a scripted in-memory connection.
type fakeConn struct {
	name       string
	total      uint32
	uids       []uint32
	messages   map[uint32]*imapx.RawMessage
	openErr    error
	enumErr    error
	fetchErr   map[uint32]error
	probeErr   error
	unauthed   bool
	fetchCalls []uint32
	opened     []string
	closed     bool
}

func (c *fakeConn) OpenFolder(name string) (uint32, error) {
	c.opened = append(c.opened, name)
	if c.openErr != nil {
		return 0, c.openErr
	}
	return c.total, nil
}

func (c *fakeConn) EnumerateUIDs() ([]uint32, error) {
	if c.enumErr != nil {
		return nil, c.enumErr
	}
	return c.uids, nil
}

func (c *fakeConn) FetchMessage(uid uint32) (*imapx.RawMessage, error) {
	c.fetchCalls = append(c.fetchCalls, uid)
	if err, ok := c.fetchErr[uid]; ok {
		return nil, err
	}
	if msg, ok := c.messages[uid]; ok {
		return msg, nil
	}
	return nil, fmt.Errorf("no message for uid %d", uid)
}

func (c *fakeConn) Probe() error        { return c.probeErr }
func (c *fakeConn) Authenticated() bool { return !c.unauthed }
func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func rawMessage(uid uint32) *imapx.RawMessage {
	return &imapx.RawMessage{
		UID:   uid,
		Flags: []string{},
		Envelope: imapx.Envelope{
			Subject:     fmt.Sprintf("message %d", uid),
			FromDisplay: `"Alice" <alice@example.com>`,
			ToDisplay:   `"Bob" <bob@example.com>`,
		},
	}
}

// scriptedConn builds a fakeConn serving the given uids.
func scriptedConn(uids ...uint32) *fakeConn {
	messages := make(map[uint32]*imapx.RawMessage, len(uids))
	for _, uid := range uids {
		messages[uid] = rawMessage(uid)
	}
	return &fakeConn{
		name:     "conn",
		total:    uint32(len(uids)),
		uids:     uids,
		messages: messages,
		fetchErr: make(map[uint32]error),
	}
}

// fakeReconnector hands out a scripted replacement connection.
type fakeReconnector struct {
	conn  imapx.Conn
	err   error
	calls int
}

func (r *fakeReconnector) Reconnect(_ context.Context, _ *types.Account) (imapx.Conn, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if r.conn == nil {
		return nil, fmt.Errorf("no replacement connection scripted")
	}
	return r.conn, nil
}

// fakeNotifier records every notification it is asked to deliver.
type fakeNotifier struct {
	mu       sync.Mutex
	fail     bool
	messages []*types.Message
}

func (n *fakeNotifier) Notify(_ context.Context, msg *types.Message, _ int64, _ string) NotifyResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	if n.fail {
		return NotifyResult{Delivered: false, Reason: "scripted failure"}
	}
	return NotifyResult{Delivered: true}
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}
