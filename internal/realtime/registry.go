package realtime

import "sync"

// Registry is the in-process coordination signal shared between the
// incremental sync engine and the real-time watcher. Both consumers use
// the same connection slot per account, so whichever claims the account
// first excludes the other until release.
type Registry struct {
	mu     sync.RWMutex
	active map[int64]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[int64]bool)}
}

// Claim marks the account as held by the real-time watcher. It returns
// false if the account was already claimed.
func (r *Registry) Claim(accountID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[accountID] {
		return false
	}
	r.active[accountID] = true
	return true
}

// Release frees the account's slot.
func (r *Registry) Release(accountID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, accountID)
}

// IsRealtimeActive reports whether the real-time watcher holds an active
// session for the account.
func (r *Registry) IsRealtimeActive(accountID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[accountID]
}
