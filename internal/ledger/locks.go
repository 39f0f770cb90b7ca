package ledger

import (
	"sync"
	"time"
)

// assetLock serializes tap handling for one asset. lastOccurred keeps the
// server-assigned transition timestamps non-decreasing for writes this
// ledger orders, even when the wall clock steps backwards.
type assetLock struct {
	mu           sync.Mutex
	lastOccurred time.Time
}

// assetLocks hands out one lock per asset identity. The inventory is fixed
// and small, so entries are never evicted.
type assetLocks struct {
	mu      sync.Mutex
	entries map[string]*assetLock
}

func newAssetLocks() *assetLocks {
	return &assetLocks{entries: make(map[string]*assetLock)}
}

// acquire returns the lock entry for assetID with its mutex held. The caller
// must unlock entry.mu when the critical section ends.
func (l *assetLocks) acquire(assetID string) *assetLock {
	l.mu.Lock()
	entry, ok := l.entries[assetID]
	if !ok {
		entry = &assetLock{}
		l.entries[assetID] = entry
	}
	l.mu.Unlock()

	entry.mu.Lock()
	return entry
}

// nextOccurredAt clamps now against the last timestamp assigned for the
// asset. Must be called with the entry's mutex held.
func (e *assetLock) nextOccurredAt(now time.Time) time.Time {
	if now.Before(e.lastOccurred) {
		now = e.lastOccurred
	}
	e.lastOccurred = now
	return now
}
