package engine

import (
	"context"

	"github.com/brandon/mailsync/pkg/types"
)

// NotifyResult reports the outcome of one notification attempt.
type NotifyResult struct {
	Delivered bool
	Reason    string
}

// Notifier delivers a downstream notification for a newly inserted
// message. Failures are logged and counted by callers, never fatal.
type Notifier interface {
	Notify(ctx context.Context, msg *types.Message, accountID int64, userID string) NotifyResult
}

// RealtimeSignal is the shared coordination signal with the real-time
// watcher. Incremental polling and real-time push must never run
// concurrently against the same account: both use the same connection
// slot.
type RealtimeSignal interface {
	IsRealtimeActive(accountID int64) bool
}
