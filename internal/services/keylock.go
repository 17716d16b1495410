package services

import "sync"

// keyLocks is a set of non-blocking per-key locks.
type keyLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newKeyLocks() *keyLocks {
	return &keyLocks{held: make(map[string]struct{})}
}

// TryAcquire takes the lock for key and reports false if it is already held.
func (k *keyLocks) TryAcquire(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, busy := k.held[key]; busy {
		return false
	}
	k.held[key] = struct{}{}
	return true
}

func (k *keyLocks) Release(key string) {
	k.mu.Lock()
	delete(k.held, key)
	k.mu.Unlock()
}
