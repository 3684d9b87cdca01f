package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/store"
	"github.com/brandon/mailsync/pkg/types"
)

func newTestSyncer(s *store.Store, notifier Notifier, batchSize int, batchDelay time.Duration) *FolderSyncer {
	executor := NewExecutor(RetryPolicy{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	}, testClassifier(), &fakeReconnector{}, testLogger())

	return NewFolderSyncer(s, executor, testClassifier(), notifier, testLogger(),
		batchSize, batchDelay, 10*time.Millisecond)
}

func TestSyncSavesNewMessagesAndAdvancesCursor(t *testing.T) {
	s, id := newEngineStore(t)
	notifier := &fakeNotifier{}
	syncer := newTestSyncer(s, notifier, 50, time.Millisecond)
	ctx := context.Background()

	conn := scriptedConn(1, 2, 3)
	result, _, err := syncer.Sync(ctx, testAccount(id), conn, "INBOX")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Fetched)
	assert.Equal(t, 3, result.Saved)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, 3, notifier.count())

	cur, err := s.GetCursor(ctx, id, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), cur.LastUID)
	assert.Equal(t, uint32(3), cur.Total)

	count, err := s.CountMessages(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSyncFetchesOnlyBeyondCursor(t *testing.T) {
	s, id := newEngineStore(t)
	notifier := &fakeNotifier{}
	syncer := newTestSyncer(s, notifier, 50, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, s.AdvanceCursor(ctx, id, "INBOX", 2, 2))

	conn := scriptedConn(1, 2, 3)
	result, _, err := syncer.Sync(ctx, testAccount(id), conn, "INBOX")
	require.NoError(t, err)

	assert.Equal(t, []uint32{3}, conn.fetchCalls, "already-synced identifiers must not be refetched")
	assert.Equal(t, 1, result.Saved)

	cur, err := s.GetCursor(ctx, id, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), cur.LastUID)
}

func TestSyncNoNewMessagesRefreshesCursor(t *testing.T) {
	s, id := newEngineStore(t)
	notifier := &fakeNotifier{}
	syncer := newTestSyncer(s, notifier, 50, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, s.AdvanceCursor(ctx, id, "INBOX", 3, 2))

	conn := scriptedConn(1, 2, 3)
	result, _, err := syncer.Sync(ctx, testAccount(id), conn, "INBOX")
	require.NoError(t, err)

	assert.Empty(t, conn.fetchCalls)
	assert.Zero(t, result.Saved)
	assert.Zero(t, notifier.count())

	cur, err := s.GetCursor(ctx, id, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), cur.LastUID)
	assert.Equal(t, uint32(3), cur.Total, "total refreshes even without new messages")
	assert.NotNil(t, cur.SyncedAt)

	// The pass still leaves an activity log entry, with all counts zero.
	var entry types.SyncLog
	require.NoError(t, s.DB().GetContext(ctx, &entry,
		"SELECT * FROM sync_logs WHERE account_id = ?", id))
	assert.Equal(t, "INBOX", entry.Folder)
	assert.Zero(t, entry.Fetched)
	assert.Zero(t, entry.Saved)
	assert.Zero(t, entry.Updated)
	assert.Zero(t, entry.Errors)
	assert.Empty(t, entry.Error)
}

func TestSyncNotifiesOnlyOnInsert(t *testing.T) {
	s, id := newEngineStore(t)
	notifier := &fakeNotifier{}
	syncer := newTestSyncer(s, notifier, 50, time.Millisecond)
	ctx := context.Background()

	// Message 2 was already stored by an earlier pass whose cursor
	// advance did not land (for example a crash between upsert and
	// cursor write). Replaying it must not re-notify.
	raw := rawMessage(2)
	existing, err := NormalizeMessage(raw, id, "INBOX")
	require.NoError(t, err)
	_, _, err = s.UpsertMessage(ctx, existing)
	require.NoError(t, err)

	conn := scriptedConn(2, 3)
	result, _, err := syncer.Sync(ctx, testAccount(id), conn, "INBOX")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Saved)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, notifier.count(), "replayed messages must not notify twice")

	cur, err := s.GetCursor(ctx, id, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), cur.LastUID)
}

func TestSyncCountsFailedNotifications(t *testing.T) {
	s, id := newEngineStore(t)
	notifier := &fakeNotifier{fail: true}
	syncer := newTestSyncer(s, notifier, 50, time.Millisecond)

	conn := scriptedConn(1, 2)
	result, _, err := syncer.Sync(context.Background(), testAccount(id), conn, "INBOX")
	require.NoError(t, err, "notification failure must not fail the sync")

	assert.Equal(t, 2, result.Saved)
	assert.Equal(t, 2, result.Notified)
	assert.Equal(t, 2, result.NotifyFailed)
}

func TestSyncMissingFolderIsEmptySuccess(t *testing.T) {
	s, id := newEngineStore(t)
	syncer := newTestSyncer(s, &fakeNotifier{}, 50, time.Millisecond)

	conn := scriptedConn(1, 2)
	conn.openErr = errors.New("NO no such mailbox Trash")

	result, _, err := syncer.Sync(context.Background(), testAccount(id), conn, "Trash")
	require.NoError(t, err)
	assert.Zero(t, result.Fetched)
	assert.Zero(t, result.Saved)
	assert.False(t, result.Throttled)
	assert.Empty(t, conn.fetchCalls)
}

func TestSyncExhaustedThrottleReturnsPartialResult(t *testing.T) {
	s, id := newEngineStore(t)
	syncer := newTestSyncer(s, &fakeNotifier{}, 50, time.Millisecond)
	ctx := context.Background()

	conn := scriptedConn(1, 2)
	conn.enumErr = errors.New("BAD too many requests")

	result, _, err := syncer.Sync(ctx, testAccount(id), conn, "INBOX")
	require.NoError(t, err, "exhausted throttling defers to the next cycle, not an error")
	assert.True(t, result.Throttled)
	assert.Zero(t, result.Saved)

	cur, err := s.GetCursor(ctx, id, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), cur.LastUID, "cursor must not move on a throttled pass")
}

func TestSyncIsolatesPerMessageFetchErrors(t *testing.T) {
	s, id := newEngineStore(t)
	syncer := newTestSyncer(s, &fakeNotifier{}, 50, time.Millisecond)
	ctx := context.Background()

	conn := scriptedConn(1, 2, 3)
	conn.fetchErr[2] = errors.New("something unexpected")

	result, _, err := syncer.Sync(ctx, testAccount(id), conn, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Saved)
	assert.Equal(t, 1, result.Errors)

	cur, err := s.GetCursor(ctx, id, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), cur.LastUID, "one bad message must not stall the cursor")
}

func TestSyncSkipsUnnormalizableMessages(t *testing.T) {
	s, id := newEngineStore(t)
	syncer := newTestSyncer(s, &fakeNotifier{}, 50, time.Millisecond)
	ctx := context.Background()

	conn := scriptedConn(1, 2)
	conn.messages[2].UID = 0 // server handed back a message without its identifier

	result, _, err := syncer.Sync(ctx, testAccount(id), conn, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)
	assert.Equal(t, 1, result.Errors)
}

func TestSyncPausesAfterMidBatchThrottle(t *testing.T) {
	s, id := newEngineStore(t)
	syncer := newTestSyncer(s, &fakeNotifier{}, 50, time.Millisecond)
	ctx := context.Background()

	conn := scriptedConn(1, 2, 3)
	conn.fetchErr[1] = errors.New("BAD rate limit exceeded")

	start := time.Now()
	result, _, err := syncer.Sync(ctx, testAccount(id), conn, "INBOX")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond, "a throttled fetch pauses before continuing")
	assert.Equal(t, 2, result.Saved)
	assert.Equal(t, 1, result.Errors)
}

func TestSyncPacesBatches(t *testing.T) {
	s, id := newEngineStore(t)
	const delay = 40 * time.Millisecond
	syncer := newTestSyncer(s, &fakeNotifier{}, 1, delay)

	conn := scriptedConn(1, 2, 3)
	start := time.Now()
	result, _, err := syncer.Sync(context.Background(), testAccount(id), conn, "INBOX")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Saved)
	assert.GreaterOrEqual(t, time.Since(start), 2*delay, "each batch after the first waits out the batch delay")
}

func TestSyncFirstBatchStartsImmediately(t *testing.T) {
	s, id := newEngineStore(t)
	const delay = 250 * time.Millisecond
	syncer := newTestSyncer(s, &fakeNotifier{}, 50, delay)

	conn := scriptedConn(1, 2, 3)
	start := time.Now()
	_, _, err := syncer.Sync(context.Background(), testAccount(id), conn, "INBOX")
	require.NoError(t, err)

	assert.Less(t, time.Since(start), delay, "a single batch must not wait for the pacing delay")
}
