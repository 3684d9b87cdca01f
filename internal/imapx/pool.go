package imapx

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/pkg/types"
)

// Pool keeps at most one connection per account alive across sync cycles,
// amortizing connection setup. A connection handed out through Acquire is
// leased: it must be returned with Release on every exit path.
type Pool struct {
	mu     sync.Mutex
	dialer Dialer
	logger *logrus.Logger
	conns  map[int64]*lease
}

type lease struct {
	conn  Conn
	inUse bool
}

// NewPool creates an empty pool backed by the given dialer.
func NewPool(dialer Dialer, logger *logrus.Logger) *Pool {
	return &Pool{
		dialer: dialer,
		logger: logger,
		conns:  make(map[int64]*lease),
	}
}

// Acquire returns the pooled connection for the account, dialing a fresh
// one when the pool has none. It fails if the account's connection is
// already leased: at most one logical connection per account is ever
// advertised to callers.
func (p *Pool) Acquire(ctx context.Context, account *types.Account) (Conn, error) {
	p.mu.Lock()
	if l, ok := p.conns[account.ID]; ok {
		if l.inUse {
			p.mu.Unlock()
			return nil, fmt.Errorf("connection for account %d already leased", account.ID)
		}
		l.inUse = true
		p.mu.Unlock()
		return l.conn, nil
	}
	p.mu.Unlock()

	conn, err := p.dialer.Dial(ctx, account)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[account.ID]; ok && !existing.inUse {
		// A concurrent caller pooled one while we dialed; keep ours, drop theirs.
		go existing.conn.Close() //nolint:errcheck
	}
	p.conns[account.ID] = &lease{conn: conn, inUse: true}
	return conn, nil
}

// Release returns the account's connection to the pool for reuse, or
// closes and discards it when reuse is false.
func (p *Pool) Release(accountID int64, reuse bool) {
	p.mu.Lock()
	l, ok := p.conns[accountID]
	if !ok {
		p.mu.Unlock()
		return
	}
	if reuse {
		l.inUse = false
		p.mu.Unlock()
		return
	}
	delete(p.conns, accountID)
	p.mu.Unlock()

	if err := l.conn.Close(); err != nil {
		p.logger.WithError(err).WithField("account_id", accountID).Debug("Error closing pooled connection")
	}
}

// Evict closes and removes the account's connection regardless of lease
// state. Used when a connection has been declared unhealthy.
func (p *Pool) Evict(accountID int64) {
	p.mu.Lock()
	l, ok := p.conns[accountID]
	if ok {
		delete(p.conns, accountID)
	}
	p.mu.Unlock()

	if ok {
		if err := l.conn.Close(); err != nil {
			p.logger.WithError(err).WithField("account_id", accountID).Debug("Error closing evicted connection")
		}
	}
}

// Swap replaces the leased connection for an account with a new one,
// keeping the lease. The previous connection must already be closed or
// evicted by the caller.
func (p *Pool) Swap(accountID int64, conn Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[accountID] = &lease{conn: conn, inUse: true}
}

// Close tears down every pooled connection.
func (p *Pool) Close() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[int64]*lease)
	p.mu.Unlock()

	for id, l := range conns {
		if err := l.conn.Close(); err != nil {
			p.logger.WithError(err).WithField("account_id", id).Debug("Error closing pooled connection")
		}
	}
}
