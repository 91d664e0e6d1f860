package auth

import (
	"strings"
	"time"
)

// User is an identity able to sign in. Username and Email are always stored
// normalized; PasswordHash never leaves the service.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	Roles        []Role     `json:"roles,omitempty"`
}

// Role groups permissions. Name uniqueness is enforced by the store.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Active      bool         `json:"active"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// Permission is a fine-grained capability granted through roles.
type Permission struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// PublicProfile is the outward projection of a user.
type PublicProfile struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Active      bool       `json:"active"`
	Roles       []string   `json:"roles"`
	Authorities []string   `json:"authorities"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// Profile projects the user with its resolved authorities.
func (u *User) Profile() PublicProfile {
	roles := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		roles = append(roles, r.Name)
	}
	return PublicProfile{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Active:      u.Active,
		Roles:       roles,
		Authorities: ResolveAuthorities(u),
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

// Normalize lower-cases and trims an identifier (username or email).
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
