package indexer

import (
	"sync"
	"sync/atomic"
)

// indexLock provides non-blocking lock semantics using an atomic CAS.
// Two concurrent Index calls on one repository must not interleave
// writes; the loser fails fast instead of queueing.
type indexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// tryAcquire attempts to acquire the lock without blocking.
func (l *indexLock) tryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// release must only be called by the caller that acquired the lock.
func (l *indexLock) release() {
	l.state.Store(0)
}

// lockTable hands out one lock per repository ID. Locks are never
// removed; the table grows with the number of distinct repositories.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*indexLock
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*indexLock)}
}

func (t *lockTable) get(repositoryID string) *indexLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[repositoryID]
	if !ok {
		l = &indexLock{}
		t.locks[repositoryID] = l
	}
	return l
}
