package filestore

import "sync"

// hashLocks is an in-process advisory lock per content hash. Entries are
// reference counted and dropped once nobody holds or waits for them.
type hashLocks struct {
	mu    sync.Mutex
	locks map[string]*hashLock
}

type hashLock struct {
	mu   sync.Mutex
	refs int
}

func newHashLocks() *hashLocks {
	return &hashLocks{locks: make(map[string]*hashLock)}
}

// lock acquires the lock for hash and returns its release function.
func (h *hashLocks) lock(hash string) func() {
	h.mu.Lock()
	l, ok := h.locks[hash]
	if !ok {
		l = &hashLock{}
		h.locks[hash] = l
	}
	l.refs++
	h.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		h.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(h.locks, hash)
		}
		h.mu.Unlock()
	}
}
