package auth

// Principal is the authenticated identity of one request. It is a plain data
// contract consumed by authorization checks and never shared across requests.
type Principal struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Authorities []string `json:"authorities"`
	// TokenID is the jti of the bearer token, kept for audit correlation.
	TokenID string `json:"-"`
}

// NewPrincipal builds a principal from a loaded user, resolving authorities fresh.
func NewPrincipal(u *User) Principal {
	return Principal{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Authorities: ResolveAuthorities(u),
	}
}

// HasAuthority reports whether the principal holds authority.
func (p Principal) HasAuthority(authority string) bool {
	for _, a := range p.Authorities {
		if a == authority {
			return true
		}
	}
	return false
}

// HasAnyAuthority reports whether the principal holds at least one of authorities.
func (p Principal) HasAnyAuthority(authorities ...string) bool {
	for _, a := range authorities {
		if p.HasAuthority(a) {
			return true
		}
	}
	return false
}
