package service

import "sync"

// lockSet hands out one mutex per key and drops it once nobody holds or
// waits on it.
type lockSet struct {
	mu    sync.Mutex
	locks map[int64]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newLockSet() *lockSet {
	return &lockSet{locks: make(map[int64]*refLock)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (s *lockSet) Lock(key int64) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &refLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}
