// Package memory provides process-local stores for development and tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"backoffice.io/internal/auth"
	"backoffice.io/internal/ids"
)

// IdentityStore keeps users and roles in memory. Returned values are copies.
type IdentityStore struct {
	mu    sync.RWMutex
	users map[string]auth.User
	roles map[string]auth.Role
}

var _ auth.IdentityStore = (*IdentityStore)(nil)

// NewIdentityStore returns a store seeded with the built-in ADMIN and USER
// roles. ADMIN holds every built-in permission.
func NewIdentityStore() *IdentityStore {
	s := &IdentityStore{
		users: make(map[string]auth.User),
		roles: make(map[string]auth.Role),
	}
	perms := make([]auth.Permission, 0, len(auth.BuiltinPermissions))
	for _, name := range auth.BuiltinPermissions {
		perms = append(perms, auth.Permission{ID: ids.New(), Name: name, Active: true})
	}
	s.PutRole(auth.Role{ID: ids.New(), Name: auth.RoleAdmin, Active: true, Permissions: perms})
	s.PutRole(auth.Role{ID: ids.New(), Name: auth.RoleUser, Active: true})
	return s
}

// PutRole inserts or replaces a role. A role without ID gets one.
func (s *IdentityStore) PutRole(role auth.Role) auth.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role.ID == "" {
		role.ID = ids.New()
	}
	role.Permissions = append([]auth.Permission(nil), role.Permissions...)
	s.roles[role.ID] = role
	return copyRole(role)
}

func (s *IdentityStore) FindByUsernameOrEmail(_ context.Context, usernameOrEmail string) (*auth.User, error) {
	key := auth.Normalize(usernameOrEmail)
	if key == "" {
		return nil, auth.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == key || u.Email == key {
			return s.hydrate(u), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *IdentityStore) FindByID(ctx context.Context, id string) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return s.hydrate(u), nil
}

// Save stores role references by ID; roles are re-read on every lookup so
// role and permission changes apply to existing users.
func (s *IdentityStore) Save(_ context.Context, u *auth.User) error {
	if u == nil {
		return auth.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.users {
		if id == u.ID {
			continue
		}
		if existing.Username == u.Username || existing.Email == u.Email {
			return auth.ErrConflict
		}
	}
	refs := make([]auth.Role, 0, len(u.Roles))
	for _, r := range u.Roles {
		if _, ok := s.roles[r.ID]; !ok {
			return auth.ErrInvalidInput
		}
		refs = append(refs, auth.Role{ID: r.ID})
	}

	if u.ID == "" {
		u.ID = ids.New()
	} else if _, ok := s.users[u.ID]; !ok {
		return auth.ErrNotFound
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	stored := *u
	stored.Roles = refs
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		stored.LastLoginAt = &t
	}
	s.users[u.ID] = stored
	return nil
}

func (s *IdentityStore) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	at = at.UTC()
	u.LastLoginAt = &at
	s.users[id] = u
	return nil
}

func (s *IdentityStore) FindRoleByID(_ context.Context, id string) (*auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := copyRole(r)
	return &cp, nil
}

func (s *IdentityStore) FindRoleByName(_ context.Context, name string) (*auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if strings.EqualFold(r.Name, strings.TrimSpace(name)) {
			cp := copyRole(r)
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

// hydrate copies u and resolves its role references. Callers hold s.mu.
func (s *IdentityStore) hydrate(u auth.User) *auth.User {
	out := u
	out.Roles = make([]auth.Role, 0, len(u.Roles))
	for _, ref := range u.Roles {
		if r, ok := s.roles[ref.ID]; ok {
			out.Roles = append(out.Roles, copyRole(r))
		}
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		out.LastLoginAt = &t
	}
	return &out
}

func copyRole(r auth.Role) auth.Role {
	r.Permissions = append([]auth.Permission(nil), r.Permissions...)
	return r
}
