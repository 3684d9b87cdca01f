package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/imapx"
	"github.com/brandon/mailsync/pkg/types"
)

// RetryPolicy bounds retries of a fallible remote operation.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Reconnector replaces a broken connection with a fresh, probed one.
type Reconnector interface {
	Reconnect(ctx context.Context, account *types.Account) (imapx.Conn, error)
}

// Executor wraps remote operations with bounded retries, exponential
// backoff, and error-class-aware recovery: throttling backs off,
// authentication failures trigger one reconnect-and-retry, missing
// folders surface immediately, anything else is retried then propagated.
type Executor struct {
	policy      RetryPolicy
	classifier  *Classifier
	reconnector Reconnector
	logger      *logrus.Logger
}

// NewExecutor creates a retry executor.
func NewExecutor(policy RetryPolicy, classifier *Classifier, reconnector Reconnector, logger *logrus.Logger) *Executor {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 500 * time.Millisecond
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = policy.BaseDelay
	}
	return &Executor{
		policy:      policy,
		classifier:  classifier,
		reconnector: reconnector,
		logger:      logger,
	}
}

// Run executes op against conn, recovering per error class. It returns
// the connection the operation last ran against, which may differ from
// the input when an authentication failure forced a reconnect.
func (e *Executor) Run(ctx context.Context, account *types.Account, conn imapx.Conn, op func(imapx.Conn) error) (imapx.Conn, error) {
	var lastErr error
	reconnected := false

	for attempt := 0; attempt <= e.policy.MaxRetries; attempt++ {
		err := op(conn)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		switch e.classifier.Kind(err) {
		case KindNotFound:
			return conn, &NotFoundError{Err: err}

		case KindAuth:
			if reconnected {
				return conn, &AuthError{Err: err}
			}
			reconnected = true
			e.logger.WithError(err).WithField("account", account.Name).Warn("Authentication dropped, reconnecting")
			fresh, reconnErr := e.reconnector.Reconnect(ctx, account)
			if reconnErr != nil {
				return conn, &AuthError{Err: err}
			}
			conn = fresh
			// Retry the same operation exactly once against the new
			// connection.
			if retryErr := op(conn); retryErr != nil {
				if e.classifier.Kind(retryErr) == KindAuth {
					return conn, &AuthError{Err: retryErr}
				}
				return conn, retryErr
			}
			return conn, nil

		case KindThrottled:
			if attempt == e.policy.MaxRetries {
				return conn, &ThrottledError{Err: err}
			}

		default:
			if attempt == e.policy.MaxRetries {
				return conn, err
			}
		}

		delay := e.backoff(attempt)
		e.logger.WithError(err).WithFields(logrus.Fields{
			"account": account.Name,
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).Debug("Retrying remote operation")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return conn, ctx.Err()
		}
	}

	return conn, lastErr
}

// backoff computes min(base * 2^attempt, max).
func (e *Executor) backoff(attempt int) time.Duration {
	delay := e.policy.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= e.policy.MaxDelay {
			return e.policy.MaxDelay
		}
	}
	if delay > e.policy.MaxDelay {
		return e.policy.MaxDelay
	}
	return delay
}
