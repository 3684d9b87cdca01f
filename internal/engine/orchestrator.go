package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/imapx"
	"github.com/brandon/mailsync/internal/store"
	"github.com/brandon/mailsync/pkg/types"
)

// ConnManager is the connection lifecycle surface the orchestrator
// depends on.
type ConnManager interface {
	EnsureHealthy(ctx context.Context, account *types.Account) (imapx.Conn, error)
	Release(accountID int64, reuse bool)
}

// Orchestrator runs one sync cycle at a time: it walks eligible accounts
// sequentially, defers to the real-time watcher on contended accounts,
// drives the folder syncer, and keeps account status columns truthful.
type Orchestrator struct {
	store         *store.Store
	manager       ConnManager
	folders       *FolderSyncer
	classifier    *Classifier
	realtime      RealtimeSignal
	logger        *logrus.Logger
	defaultFolder string
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(
	st *store.Store,
	manager ConnManager,
	folders *FolderSyncer,
	classifier *Classifier,
	realtime RealtimeSignal,
	logger *logrus.Logger,
	defaultFolder string,
) *Orchestrator {
	if defaultFolder == "" {
		defaultFolder = "INBOX"
	}
	return &Orchestrator{
		store:         st,
		manager:       manager,
		folders:       folders,
		classifier:    classifier,
		realtime:      realtime,
		logger:        logger,
		defaultFolder: defaultFolder,
	}
}

// RunCycle processes every eligible account once. Per-account failures
// are isolated: the remaining accounts still get attempted. Only a
// failure to list accounts at all ends the cycle early.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	accounts, err := o.store.ListActiveAccounts(ctx)
	if err != nil {
		o.logger.WithError(err).Error("Failed to list accounts, ending cycle")
		return err
	}

	for i := range accounts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		acct := &accounts[i]
		if !acct.Syncable() {
			o.logger.WithField("account", acct.Name).Warn("Skipping account with incomplete mailbox settings")
			continue
		}

		if err := o.syncAccount(ctx, acct.ID); err != nil {
			o.logger.WithError(err).WithField("account", acct.Name).Error("Account sync failed")
		}
	}

	return nil
}

// syncAccount runs the full folder pass for one account.
func (o *Orchestrator) syncAccount(ctx context.Context, accountID int64) error {
	// Re-fetch immediately before use: the account may have been deleted
	// or deactivated since the cycle started.
	account, err := o.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil || !account.Active || !account.Syncable() {
		return nil
	}

	if o.realtime.IsRealtimeActive(account.ID) {
		o.logger.WithField("account", account.Name).Debug("Real-time watcher holds the connection slot, skipping")
		return nil
	}

	if err := o.store.UpdateAccountStatus(ctx, account.ID, types.StatusSyncing, ""); err != nil {
		return err
	}

	conn, err := o.manager.EnsureHealthy(ctx, account)
	if err != nil {
		o.recordFailure(ctx, account, err)
		o.manager.Release(account.ID, false)
		return err
	}

	folders, err := o.store.EligibleFolders(ctx, account.ID)
	if err != nil {
		o.recordFailure(ctx, account, err)
		o.manager.Release(account.ID, false)
		return err
	}
	if len(folders) == 0 {
		// No folder has completed its initial full sync yet; poll the
		// well-known inbox until the bootstrap catches up.
		folders = []string{o.defaultFolder}
	}

	var firstErr error
	throttled := false

	for _, folder := range folders {
		result, newConn, syncErr := o.folders.Sync(ctx, account, conn, folder)
		conn = newConn
		if result.Throttled {
			throttled = true
		}
		if syncErr != nil {
			if firstErr == nil {
				firstErr = syncErr
			}
			if o.classifier.Kind(syncErr) == KindAuth {
				// No point hammering the remaining folders with dead
				// credentials.
				break
			}
			// Other folder errors are isolated to that folder.
		}
	}

	if firstErr != nil {
		o.recordFailure(ctx, account, firstErr)
		o.manager.Release(account.ID, false)
		return firstErr
	}

	if throttled {
		o.setStatus(ctx, account.ID, types.StatusThrottled,
			"temporarily throttled by the mail server; will retry automatically")
	} else {
		o.setStatus(ctx, account.ID, types.StatusIdle, "")
		if err := o.store.SetNeedsReconnection(ctx, account.ID, false); err != nil {
			o.logger.WithError(err).WithField("account", account.Name).Warn("Failed to clear reconnection flag")
		}
		o.completeInitialSync(ctx, account)
	}

	o.manager.Release(account.ID, true)
	return nil
}

// completeInitialSync flips the one-time completion flag; the store's
// compare-and-set tolerates concurrent orchestrator runs racing on it.
func (o *Orchestrator) completeInitialSync(ctx context.Context, account *types.Account) {
	if account.InitialSyncCompleted {
		return
	}
	flipped, err := o.store.CompleteInitialSync(ctx, account.ID, time.Now().UTC())
	if err != nil {
		o.logger.WithError(err).WithField("account", account.Name).Warn("Failed to mark initial sync complete")
		return
	}
	if flipped {
		o.logger.WithField("account", account.Name).Info("Initial sync completed, notifications enabled")
	}
}

// recordFailure classifies an account-level failure and persists the
// matching status so consumers of account state can tell "needs manual
// reconnection" from "temporarily throttled" without reading logs.
func (o *Orchestrator) recordFailure(ctx context.Context, account *types.Account, err error) {
	switch o.classifier.Kind(err) {
	case KindAuth:
		if setErr := o.store.SetNeedsReconnection(ctx, account.ID, true); setErr != nil {
			o.logger.WithError(setErr).WithField("account", account.Name).Warn("Failed to set reconnection flag")
		}
		o.setStatus(ctx, account.ID, types.StatusError,
			fmt.Sprintf("authentication failed, manual reconnection required: %v", err))

	case KindThrottled, KindTransient:
		// A dropped connection without an auth signature is most likely
		// rate limiting; the account retries next cycle without manual
		// re-authorization.
		o.setStatus(ctx, account.ID, types.StatusThrottled,
			fmt.Sprintf("temporarily throttled by the mail server, will retry automatically: %v", err))

	default:
		o.setStatus(ctx, account.ID, types.StatusError, err.Error())
	}
}

func (o *Orchestrator) setStatus(ctx context.Context, accountID int64, status types.AccountStatus, message string) {
	if err := o.store.UpdateAccountStatus(ctx, accountID, status, message); err != nil {
		o.logger.WithError(err).WithField("account_id", accountID).Warn("Failed to update account status")
	}
}
