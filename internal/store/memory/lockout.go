package memory

import (
	"context"
	"sync"
	"time"

	"backoffice.io/internal/auth"
)

// LockoutStore tracks failed logins per process. Use the Redis store when
// running more than one replica.
type LockoutStore struct {
	mu     sync.Mutex
	states map[string]auth.LockoutState
}

var _ auth.LockoutStore = (*LockoutStore)(nil)

func NewLockoutStore() *LockoutStore {
	return &LockoutStore{states: make(map[string]auth.LockoutState)}
}

func (s *LockoutStore) Get(_ context.Context, key string) (auth.LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[key], nil
}

func (s *LockoutStore) RecordFailure(_ context.Context, key string, now time.Time, threshold int, window time.Duration) (auth.LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[key]
	if st.LockedUntil != nil && !st.Locked(now) {
		st = auth.LockoutState{}
	}
	st.FailedCount++
	if st.FailedCount >= threshold {
		until := now.Add(window).UTC()
		st.LockedUntil = &until
	}
	s.states[key] = st
	return st, nil
}

func (s *LockoutStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	return nil
}
