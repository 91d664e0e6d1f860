package auth

import (
	"context"
	"time"
)

// IdentityStore is the persistence collaborator. Lookups return ErrNotFound
// when nothing matches; users are returned with roles and permissions loaded.
type IdentityStore interface {
	// FindByUsernameOrEmail matches the normalized value against username or email.
	FindByUsernameOrEmail(ctx context.Context, usernameOrEmail string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	// Save inserts a user without ID or updates an existing one, including role assignments.
	// Duplicate username or email yields ErrConflict.
	Save(ctx context.Context, u *User) error
	// TouchLastLogin sets only the last login time, leaving status and roles untouched.
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	FindRoleByID(ctx context.Context, id string) (*Role, error)
	FindRoleByName(ctx context.Context, name string) (*Role, error)
}

// LockoutState is the failed-login bookkeeping of one identifier.
type LockoutState struct {
	FailedCount int
	LockedUntil *time.Time
}

// Locked reports whether the state blocks logins at now.
func (s LockoutState) Locked(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// LockoutStore tracks failed logins per normalized identifier.
type LockoutStore interface {
	Get(ctx context.Context, key string) (LockoutState, error)
	RecordFailure(ctx context.Context, key string, now time.Time, threshold int, window time.Duration) (LockoutState, error)
	Clear(ctx context.Context, key string) error
}
