package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type fakeStore struct {
	mu      sync.Mutex
	users   map[string]*User
	roles   map[string]*Role
	nextID  int
	findErr error
	saves   int
	touches int
	hook    func()
}

func newFakeStore() *fakeStore {
	st := &fakeStore{users: map[string]*User{}, roles: map[string]*Role{}}
	st.roles["r-user"] = &Role{ID: "r-user", Name: RoleUser, Active: true}
	st.roles["r-admin"] = &Role{ID: "r-admin", Name: RoleAdmin, Active: true, Permissions: []Permission{
		{ID: "p-1", Name: "user_read", Active: true},
		{ID: "p-2", Name: "role_read", Active: true},
	}}
	return st
}

func (s *fakeStore) put(u *User) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
	return &cp
}

func (s *fakeStore) FindByUsernameOrEmail(_ context.Context, v string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, u := range s.users {
		if u.Username == v || u.Email == v {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *fakeStore) FindByID(_ context.Context, id string) (*User, error) {
	if s.hook != nil {
		s.hook()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	cp.Roles = append([]Role(nil), u.Roles...)
	return &cp, nil
}

func (s *fakeStore) Save(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.users {
		if id != u.ID && (existing.Username == u.Username || existing.Email == u.Email) {
			return ErrConflict
		}
	}
	if u.ID == "" {
		s.nextID++
		u.ID = fmt.Sprintf("u-%d", s.nextID)
	}
	cp := *u
	s.users[u.ID] = &cp
	s.saves++
	return nil
}

func (s *fakeStore) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLoginAt = &at
	s.touches++
	return nil
}

func (s *fakeStore) FindRoleByID(_ context.Context, id string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) FindRoleByName(_ context.Context, name string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

type fakeLockouts struct {
	mu     sync.Mutex
	states map[string]LockoutState
}

func newFakeLockouts() *fakeLockouts {
	return &fakeLockouts{states: map[string]LockoutState{}}
}

func (l *fakeLockouts) Get(_ context.Context, key string) (LockoutState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.states[key], nil
}

func (l *fakeLockouts) RecordFailure(_ context.Context, key string, now time.Time, threshold int, window time.Duration) (LockoutState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.states[key]
	st.FailedCount++
	if st.FailedCount >= threshold {
		until := now.Add(window)
		st.LockedUntil = &until
	}
	l.states[key] = st
	return st, nil
}

func (l *fakeLockouts) Clear(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.states, key)
	return nil
}

// plainHasher keeps service tests fast; bcrypt itself is covered in password_test.go.
type plainHasher struct {
	verifies int
	onVerify func()
}

func (h *plainHasher) Hash(pw string) (string, error) {
	if pw == "" {
		return "", errors.New("password is empty")
	}
	return "plain:" + pw, nil
}

func (h *plainHasher) Verify(pw, hash string) bool {
	h.verifies++
	if h.onVerify != nil {
		h.onVerify()
	}
	return hash == "plain:"+pw
}
