// Package keylock provides one mutex per key, dropped once no goroutine
// holds or waits for it.
package keylock

import "sync"

type ref struct {
	mu   sync.Mutex
	refs int
}

// Set is a collection of per-key mutexes. The zero value is ready to use.
type Set[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*ref
}

// Lock blocks until k is held and returns the matching unlock function.
func (s *Set[K]) Lock(k K) (unlock func()) {
	s.mu.Lock()
	if s.locks == nil {
		s.locks = make(map[K]*ref)
	}
	l, ok := s.locks[k]
	if !ok {
		l = &ref{}
		s.locks[k] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, k)
		}
		s.mu.Unlock()
	}
}

// Len returns the number of keys currently held or waited on.
func (s *Set[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
