package manager

import "sync"

// keyedMutex serializes operations per session name. Entries are reference
// counted so the table only holds names with operations in flight.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.RWMutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock acquires the exclusive lock for name and returns its release function.
func (k *keyedMutex) Lock(name string) func() {
	l := k.acquire(name)
	l.Lock()
	return func() {
		l.Unlock()
		k.release(name, l)
	}
}

// RLock acquires the shared lock for name. Readers only wait for mutations of
// the same name, never for runs.
func (k *keyedMutex) RLock(name string) func() {
	l := k.acquire(name)
	l.RLock()
	return func() {
		l.RUnlock()
		k.release(name, l)
	}
}

func (k *keyedMutex) acquire(name string) *refLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[name]
	if !ok {
		l = &refLock{}
		k.locks[name] = l
	}
	l.refs++
	return l
}

func (k *keyedMutex) release(name string, l *refLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, name)
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
