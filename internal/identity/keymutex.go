package identity

import "sync"

// keyMutex serializes writers per key. Profile mutations for the same name
// form a logical transaction (embedding union plus threshold recompute) and
// must never interleave.
type keyMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyMutex() *keyMutex {
	return &keyMutex{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for key and returns its unlock function. Mutexes
// are never reclaimed; the key space (enrolled names) is small.
func (k *keyMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
