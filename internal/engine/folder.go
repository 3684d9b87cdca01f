package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/brandon/mailsync/internal/imapx"
	"github.com/brandon/mailsync/internal/store"
	"github.com/brandon/mailsync/pkg/types"
)

// FolderResult summarizes one folder-sync attempt. A throttled pass
// reports what it managed before giving up instead of failing the cycle.
type FolderResult struct {
	Folder       string
	Fetched      int
	Saved        int
	Updated      int
	Errors       int
	Notified     int
	NotifyFailed int
	Throttled    bool
	Duration     time.Duration
}

// FolderSyncer runs incremental sync passes over single folders:
// health-checked connection in, cursor diff, batched fetch-normalize-
// upsert, notify on insert, monotone cursor advance out.
type FolderSyncer struct {
	store         *store.Store
	executor      *Executor
	classifier    *Classifier
	notifier      Notifier
	logger        *logrus.Logger
	batchSize     int
	batchDelay    time.Duration
	throttlePause time.Duration
}

// NewFolderSyncer creates a folder syncer.
func NewFolderSyncer(
	st *store.Store,
	executor *Executor,
	classifier *Classifier,
	notifier Notifier,
	logger *logrus.Logger,
	batchSize int,
	batchDelay time.Duration,
	throttlePause time.Duration,
) *FolderSyncer {
	if batchSize < 1 {
		batchSize = 50
	}
	return &FolderSyncer{
		store:         st,
		executor:      executor,
		classifier:    classifier,
		notifier:      notifier,
		logger:        logger,
		batchSize:     batchSize,
		batchDelay:    batchDelay,
		throttlePause: throttlePause,
	}
}

// Sync performs one incremental pass over the folder. It returns the
// connection the pass ended on (retries may have replaced it). A missing
// folder is a zero-result success; exhausted throttling returns a partial
// result with Throttled set; authentication failures propagate so the
// orchestrator can halt the account's remaining folders.
func (f *FolderSyncer) Sync(ctx context.Context, account *types.Account, conn imapx.Conn, folder string) (FolderResult, imapx.Conn, error) {
	start := time.Now()
	result := FolderResult{Folder: folder}
	log := f.logger.WithFields(logrus.Fields{
		"account": account.Name,
		"folder":  folder,
	})

	cursor, err := f.store.GetCursor(ctx, account.ID, folder)
	if err != nil {
		return result, conn, err
	}
	lastUID := cursor.LastUID

	// Open folder, recording the server-reported total.
	var total uint32
	conn, err = f.executor.Run(ctx, account, conn, func(c imapx.Conn) error {
		t, openErr := c.OpenFolder(folder)
		if openErr != nil {
			return openErr
		}
		total = t
		return nil
	})
	if err != nil {
		return f.finishEarly(ctx, account, log, result, conn, err, start)
	}

	// Enumerate everything; the protocol offers no server-side
	// "identifier greater than cursor" filter this engine relies on.
	var uids []uint32
	conn, err = f.executor.Run(ctx, account, conn, func(c imapx.Conn) error {
		all, enumErr := c.EnumerateUIDs()
		if enumErr != nil {
			return enumErr
		}
		uids = all
		return nil
	})
	if err != nil {
		return f.finishEarly(ctx, account, log, result, conn, err, start)
	}

	newUIDs := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if uid > lastUID {
			newUIDs = append(newUIDs, uid)
		}
	}
	sort.Slice(newUIDs, func(i, j int) bool { return newUIDs[i] < newUIDs[j] })

	if len(newUIDs) == 0 {
		// Nothing new: refresh the cursor timestamp and total.
		if err := f.store.AdvanceCursor(ctx, account.ID, folder, lastUID, total); err != nil {
			return result, conn, err
		}
		result.Duration = time.Since(start)
		f.writeLog(ctx, account.ID, result, "")
		log.WithField("last_uid", lastUID).Debug("No new messages")
		return result, conn, nil
	}

	log.WithFields(logrus.Fields{
		"new":      len(newUIDs),
		"last_uid": lastUID,
	}).Info("Found new messages")

	// Batches run strictly in order, paced by the limiter: the first
	// batch starts immediately, every later one waits out the batch
	// delay. This is the backpressure protecting against upstream rate
	// limiting from fetch bursts.
	limiter := rate.NewLimiter(rate.Every(f.batchDelay), 1)
	maxSeen := lastUID
	var storageErr error

batches:
	for batchStart := 0; batchStart < len(newUIDs); batchStart += f.batchSize {
		if err := limiter.Wait(ctx); err != nil {
			storageErr = err
			break
		}

		end := batchStart + f.batchSize
		if end > len(newUIDs) {
			end = len(newUIDs)
		}

		for _, uid := range newUIDs[batchStart:end] {
			raw, fetchErr := conn.FetchMessage(uid)
			if fetchErr != nil {
				result.Errors++
				if f.classifier.Kind(fetchErr) == KindThrottled {
					log.WithError(fetchErr).WithField("uid", uid).Warn("Throttled mid-batch, pausing")
					if sleepErr := sleepCtx(ctx, f.throttlePause); sleepErr != nil {
						storageErr = sleepErr
						break batches
					}
				} else {
					log.WithError(fetchErr).WithField("uid", uid).Warn("Failed to fetch message")
				}
				continue
			}
			result.Fetched++

			record, normErr := NormalizeMessage(raw, account.ID, folder)
			if normErr != nil {
				result.Errors++
				log.WithError(normErr).WithField("uid", uid).Warn("Failed to normalize message")
				continue
			}

			action, id, upsertErr := f.store.UpsertMessage(ctx, record)
			if upsertErr != nil {
				result.Errors++
				storageErr = upsertErr
				log.WithError(upsertErr).WithField("uid", uid).Error("Failed to persist message")
				break batches
			}
			record.ID = id

			if action == store.ActionInserted {
				result.Saved++
				result.Notified++
				outcome := f.notifier.Notify(ctx, record, account.ID, account.UserID)
				if !outcome.Delivered {
					result.NotifyFailed++
					log.WithFields(logrus.Fields{
						"uid":    uid,
						"reason": outcome.Reason,
					}).Warn("Notification not delivered")
				}
			} else {
				result.Updated++
			}

			if uid > maxSeen {
				maxSeen = uid
			}
		}
	}

	// Advance even after early termination: the cursor is non-decreasing
	// and replaying the same identifier range is idempotent.
	if err := f.store.AdvanceCursor(ctx, account.ID, folder, maxSeen, total); err != nil && storageErr == nil {
		storageErr = err
	}

	result.Duration = time.Since(start)
	errText := ""
	if storageErr != nil {
		errText = storageErr.Error()
	}
	f.writeLog(ctx, account.ID, result, errText)

	log.WithFields(logrus.Fields{
		"fetched":  result.Fetched,
		"saved":    result.Saved,
		"updated":  result.Updated,
		"errors":   result.Errors,
		"duration": result.Duration.String(),
	}).Info("Folder sync complete")

	return result, conn, storageErr
}

// finishEarly resolves a failure of the folder-open or enumeration stage
// according to the error policy: not-found is an empty success, exhausted
// throttling is a partial result, anything else propagates.
func (f *FolderSyncer) finishEarly(ctx context.Context, account *types.Account, log *logrus.Entry, result FolderResult, conn imapx.Conn, err error, start time.Time) (FolderResult, imapx.Conn, error) {
	result.Duration = time.Since(start)

	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		log.WithError(err).Info("Folder not found, skipping")
		f.writeLog(ctx, account.ID, result, "")
		return result, conn, nil
	}

	var throttled *ThrottledError
	if errors.As(err, &throttled) {
		log.WithError(err).Warn("Throttled, deferring folder to next cycle")
		result.Throttled = true
		f.writeLog(ctx, account.ID, result, err.Error())
		return result, conn, nil
	}

	f.writeLog(ctx, account.ID, result, err.Error())
	return result, conn, err
}

// writeLog appends the activity entry for this attempt. Log failures are
// non-fatal: observability must not break synchronization.
func (f *FolderSyncer) writeLog(ctx context.Context, accountID int64, result FolderResult, errText string) {
	entry := &types.SyncLog{
		AccountID:  accountID,
		Folder:     result.Folder,
		Fetched:    result.Fetched,
		Saved:      result.Saved,
		Updated:    result.Updated,
		Errors:     result.Errors,
		DurationMS: result.Duration.Milliseconds(),
		Error:      errText,
	}
	if err := f.store.InsertSyncLog(ctx, entry); err != nil {
		f.logger.WithError(err).Warn("Failed to write sync activity log")
	}
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
