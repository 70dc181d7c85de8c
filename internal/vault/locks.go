package vault

import "sync"

// lockTable hands out one RWMutex per resource path so concurrent access to
// different documents never serializes, while writers on the same document do.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.RWMutex)}
}

func (t *lockTable) get(resource string) *sync.RWMutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[resource]
	if !ok {
		l = &sync.RWMutex{}
		t.locks[resource] = l
	}
	return l
}

func (t *lockTable) RLock(resource string) func() {
	l := t.get(resource)
	l.RLock()
	return l.RUnlock
}

func (t *lockTable) Lock(resource string) func() {
	l := t.get(resource)
	l.Lock()
	return l.Unlock
}
