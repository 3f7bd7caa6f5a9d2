package coordinator

import "sync"

// fileMutex serializes work on a single file identifier. The conflict lock decides who
// may write; fileMutex orders the writes of whoever was admitted, including re-entrant
// writes by the lock holder, and the cache fills that must observe them.
type fileMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newFileMutex() *fileMutex {
	return &fileMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until id is free and returns the matching unlock.
func (f *fileMutex) Lock(id string) func() {
	f.mu.Lock()
	m, ok := f.locks[id]
	if !ok {
		m = &refMutex{}
		f.locks[id] = m
	}
	m.refs++
	f.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()

		f.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(f.locks, id)
		}
		f.mu.Unlock()
	}
}

// Len returns the number of identifiers with a holder or waiter.
func (f *fileMutex) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.locks)
}
