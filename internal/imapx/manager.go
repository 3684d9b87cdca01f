package imapx

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/pkg/types"
)

// ConnectionError marks a connection that stayed unhealthy after a full
// evict-and-redial. It is fatal for the current sync attempt.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection unhealthy: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Manager owns the connection lifecycle for all accounts: it hands out
// pooled connections and replaces the ones that fail their health probe.
type Manager struct {
	pool   *Pool
	dialer Dialer
	logger *logrus.Logger
}

// NewManager creates a lifecycle manager over the given pool.
func NewManager(pool *Pool, dialer Dialer, logger *logrus.Logger) *Manager {
	return &Manager{pool: pool, dialer: dialer, logger: logger}
}

// EnsureHealthy returns a healthy leased connection for the account. A
// connection counts as healthy only when its session is authenticated and
// a round-trip probe succeeds; anything else is treated as unhealthy. An
// unhealthy pooled connection is evicted and replaced once; if the fresh
// connection is still unhealthy the attempt fails with a ConnectionError.
func (m *Manager) EnsureHealthy(ctx context.Context, account *types.Account) (Conn, error) {
	conn, err := m.pool.Acquire(ctx, account)
	if err != nil {
		return nil, err
	}

	if probeErr := m.probe(conn); probeErr == nil {
		return conn, nil
	} else {
		m.logger.WithError(probeErr).WithField("account", account.Name).Warn("Connection failed health probe, reconnecting")
	}

	m.pool.Evict(account.ID)

	fresh, err := m.dialer.Dial(ctx, account)
	if err != nil {
		return nil, err
	}

	if probeErr := m.probe(fresh); probeErr != nil {
		fresh.Close() //nolint:errcheck
		return nil, &ConnectionError{Err: probeErr}
	}

	m.pool.Swap(account.ID, fresh)
	return fresh, nil
}

// Reconnect discards the account's current connection (leased or not) and
// establishes a fresh, probed one under the same lease. Used when an
// operation fails with an authentication-shaped error mid-sync.
func (m *Manager) Reconnect(ctx context.Context, account *types.Account) (Conn, error) {
	m.pool.Evict(account.ID)

	fresh, err := m.dialer.Dial(ctx, account)
	if err != nil {
		return nil, err
	}

	if probeErr := m.probe(fresh); probeErr != nil {
		fresh.Close() //nolint:errcheck
		return nil, &ConnectionError{Err: probeErr}
	}

	m.pool.Swap(account.ID, fresh)
	return fresh, nil
}

// Release hands the account's connection back to the pool.
func (m *Manager) Release(accountID int64, reuse bool) {
	m.pool.Release(accountID, reuse)
}

// probe checks authentication state and performs a round-trip.
func (m *Manager) probe(conn Conn) error {
	if !conn.Authenticated() {
		return fmt.Errorf("session is not authenticated")
	}
	return conn.Probe()
}
