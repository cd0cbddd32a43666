package resource

import "sync"

// scopeLocks serializes mutations per scope (bucket, collection, or group
// listing scope). Writers hold the scope's mutex across the conditional
// check, the mutation with its timestamp bump, and any ACL or index update;
// listings never take it.
type scopeLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for the scope, creating it on first use, and
// returns the unlock function.
func (s *scopeLocks) lock(scope string) func() {
	s.mu.Lock()
	m, ok := s.locks[scope]
	if !ok {
		m = &sync.Mutex{}
		s.locks[scope] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}
