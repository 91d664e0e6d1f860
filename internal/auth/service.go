package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"backoffice.io/internal/obs"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{2,49}$`)

// PasswordHasher hashes and verifies credentials.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// LoginResult is returned by a successful credential login.
type LoginResult struct {
	Profile   PublicProfile
	Principal Principal
	Token     string
	ExpiresAt time.Time
}

// RegisterInput carries sign-up data.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Service implements credential login, token re-validation and sign-up.
type Service struct {
	users  IdentityStore
	hasher PasswordHasher
	tokens *TokenService
	authn  *Authenticator
	now    func() time.Time
	logger *slog.Logger

	defaultRole string

	lockouts        LockoutStore
	failedThreshold int
	lockoutWindow   time.Duration

	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLogger overrides the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDefaultRole sets the role name assigned on sign-up.
func WithDefaultRole(name string) ServiceOption {
	return func(s *Service) {
		if name = strings.TrimSpace(name); name != "" {
			s.defaultRole = name
		}
	}
}

// WithLockout enables lockout after threshold consecutive failures for window.
func WithLockout(store LockoutStore, threshold int, window time.Duration) ServiceOption {
	return func(s *Service) {
		if store == nil || threshold <= 0 || window <= 0 {
			return
		}
		s.lockouts = store
		s.failedThreshold = threshold
		s.lockoutWindow = window
	}
}

// NewService constructs Service.
func NewService(users IdentityStore, hasher PasswordHasher, tokens *TokenService, opts ...ServiceOption) (*Service, error) {
	if users == nil || hasher == nil || tokens == nil {
		return nil, errors.New("auth: identity store, hasher and token service are required")
	}
	svc := &Service{
		users:       users,
		hasher:      hasher,
		tokens:      tokens,
		now:         time.Now,
		logger:      obs.Component("auth.service"),
		defaultRole: RoleUser,
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.authn = NewAuthenticator(tokens, users, svc.logger)
	return svc, nil
}

// Authenticator exposes the per-request pipeline sharing this service's collaborators.
func (s *Service) Authenticator() *Authenticator { return s.authn }

// Login verifies credentials and issues a token. Unknown identity, wrong
// password and inactive account all return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, usernameOrEmail, password string) (LoginResult, error) {
	key := Normalize(usernameOrEmail)
	now := s.now().UTC()

	if key == "" || password == "" {
		obs.LoginAttempt("invalid_credentials")
		return LoginResult{}, ErrInvalidCredentials
	}
	if s.lockouts != nil {
		state, err := s.lockouts.Get(ctx, key)
		if err != nil {
			s.logger.ErrorContext(ctx, "lockout lookup failed", "error", err.Error())
		} else if state.Locked(now) {
			obs.LoginAttempt("locked")
			return LoginResult{}, ErrTooManyAttempts
		}
	}

	user, err := s.users.FindByUsernameOrEmail(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			obs.LoginAttempt("error")
			return LoginResult{}, fmt.Errorf("find user: %w", err)
		}
		s.hasher.Verify(password, s.dummy())
		return LoginResult{}, s.fail(ctx, key, "unknown identity")
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return LoginResult{}, s.fail(ctx, key, "password mismatch")
	}
	if !user.Active {
		return LoginResult{}, s.fail(ctx, key, "inactive account")
	}

	token, expiresAt, err := s.tokens.Issue(user.ID, now)
	if err != nil {
		obs.LoginAttempt("error")
		return LoginResult{}, err
	}

	if s.lockouts != nil {
		if err := s.lockouts.Clear(ctx, key); err != nil {
			s.logger.WarnContext(ctx, "lockout clear failed", "error", err.Error())
		}
	}
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.logger.WarnContext(ctx, "last login update failed", "user_id", user.ID, "error", err.Error())
	}

	user.LastLoginAt = &now
	principal := NewPrincipal(user)
	principal.TokenID = s.tokens.TokenID(token)

	obs.LoginAttempt("success")
	s.logger.InfoContext(ctx, "login succeeded", "user_id", user.ID)
	return LoginResult{
		Profile:   user.Profile(),
		Principal: principal,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) fail(ctx context.Context, key, reason string) error {
	obs.LoginAttempt("invalid_credentials")
	s.logger.WarnContext(ctx, "login rejected", "identifier", key, "reason", reason)
	if s.lockouts == nil {
		return ErrInvalidCredentials
	}
	state, err := s.lockouts.RecordFailure(ctx, key, s.now().UTC(), s.failedThreshold, s.lockoutWindow)
	if err != nil {
		s.logger.ErrorContext(ctx, "lockout record failed", "error", err.Error())
		return ErrInvalidCredentials
	}
	if state.LockedUntil != nil {
		s.logger.WarnContext(ctx, "identifier locked out", "identifier", key, "until", state.LockedUntil.Format(time.RFC3339))
	}
	return ErrInvalidCredentials
}

// dummy returns a hash compared against when the identity is unknown, so the
// response time does not reveal whether it exists.
func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("backoffice-timing-equalizer")
		if err != nil {
			s.logger.Error("dummy hash failed", "error", err.Error())
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

// ValidateToken re-validates token and returns the current principal. The
// user is re-read and its active flag checked on every call.
func (s *Service) ValidateToken(ctx context.Context, token string) (Principal, error) {
	principal, err := s.authn.Authenticate(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return Principal{}, ErrUnauthenticated
		}
		return Principal{}, err
	}
	return principal, nil
}

// Profile loads the public profile of a user.
func (s *Service) Profile(ctx context.Context, userID string) (PublicProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return PublicProfile{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return PublicProfile{}, err
	}
	return user.Profile(), nil
}

// Role loads a role with its permissions.
func (s *Service) Role(ctx context.Context, roleID string) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := s.users.FindRoleByID(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	return *role, nil
}

// Register creates an active user holding the default role.
func (s *Service) Register(ctx context.Context, in RegisterInput) (PublicProfile, error) {
	username := Normalize(in.Username)
	email := Normalize(in.Email)
	if !usernamePattern.MatchString(username) {
		return PublicProfile{}, fmt.Errorf("%w: username must be 3-50 characters of a-z, 0-9, '.', '_' or '-'", ErrInvalidInput)
	}
	if email == "" || !strings.Contains(email, "@") || strings.HasPrefix(email, "@") || strings.HasSuffix(email, "@") {
		return PublicProfile{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if n := len(in.Password); n < minPasswordLength || n > maxPasswordLength {
		return PublicProfile{}, fmt.Errorf("%w: password must be %d-%d bytes", ErrInvalidInput, minPasswordLength, maxPasswordLength)
	}

	for _, candidate := range []string{username, email} {
		_, err := s.users.FindByUsernameOrEmail(ctx, candidate)
		switch {
		case err == nil:
			return PublicProfile{}, fmt.Errorf("%w: username or email already registered", ErrConflict)
		case !errors.Is(err, ErrNotFound):
			return PublicProfile{}, fmt.Errorf("check existing user: %w", err)
		}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return PublicProfile{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := &User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	role, err := s.users.FindRoleByName(ctx, s.defaultRole)
	switch {
	case err == nil:
		user.Roles = []Role{*role}
	case errors.Is(err, ErrNotFound):
		s.logger.WarnContext(ctx, "default role missing; user created without roles", "role", s.defaultRole)
	default:
		return PublicProfile{}, fmt.Errorf("load default role: %w", err)
	}

	if err := s.users.Save(ctx, user); err != nil {
		return PublicProfile{}, err
	}
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return user.Profile(), nil
}
