package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"backoffice.io/internal/obs"
)

const (
	// MinSecretLength is the shortest signing secret accepted, in characters.
	MinSecretLength = 32

	defaultIssuer   = "backoffice"
	defaultTokenTTL = time.Hour
)

// insecureSecrets are placeholders shipped in sample configs.
var insecureSecrets = []string{
	"change-me-change-me-change-me-change-me",
	"please-change-this-jwt-secret-in-production",
	"backoffice-development-secret-do-not-use-in-prod",
}

func isInsecureSecret(secret string) bool {
	for _, s := range insecureSecrets {
		if secret == s {
			return true
		}
	}
	return false
}

// TokenConfig is the signing configuration, built once at startup.
type TokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// TokenService issues and validates HS256 bearer tokens. It is immutable
// after construction and safe for concurrent use.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// TokenOption configures TokenService.
type TokenOption func(*TokenService)

// WithTokenClock overrides the time source used for expiry checks.
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithTokenLogger overrides the logger.
func WithTokenLogger(l *slog.Logger) TokenOption {
	return func(s *TokenService) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewTokenService validates cfg and returns a ready service. It returns
// ErrInsecureSecret when the secret is missing, blank or too short; callers
// must treat that as fatal.
func NewTokenService(cfg TokenConfig, opts ...TokenOption) (*TokenService, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" || utf8.RuneCountInString(secret) < MinSecretLength {
		return nil, ErrInsecureSecret
	}
	svc := &TokenService{
		secret: []byte(secret),
		issuer: strings.TrimSpace(cfg.Issuer),
		ttl:    cfg.TTL,
		now:    time.Now,
		logger: obs.Component("auth.token"),
	}
	if svc.issuer == "" {
		svc.issuer = defaultIssuer
	}
	if svc.ttl <= 0 {
		svc.ttl = defaultTokenTTL
	}
	for _, opt := range opts {
		opt(svc)
	}
	if isInsecureSecret(secret) {
		svc.logger.Warn("insecure default JWT secret in use; set BACKOFFICE_JWT_SECRET")
	}
	return svc, nil
}

// TTL reports the configured token lifetime.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Issue signs a token for subject. issuedAt is truncated to whole seconds and
// the token expires at issuedAt+TTL; it is still valid at that exact instant.
func (s *TokenService) Issue(subject string, issuedAt time.Time) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errors.New("subject is required")
	}
	iat := issuedAt.UTC().Truncate(time.Second)
	exp := iat.Add(s.ttl)

	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Validate reports whether token is well formed, correctly signed, issued by
// this service and not expired. Every failure yields false.
func (s *TokenService) Validate(token string) bool {
	_, err := s.parse(token)
	return err == nil
}

// ParseSubject returns the subject of a token. Call Validate first; an
// unverifiable token returns ErrUnauthenticated.
func (s *TokenService) ParseSubject(token string) (string, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", ErrUnauthenticated
	}
	return claims.Subject, nil
}

// TokenID returns the jti of a verifiable token, or "" otherwise.
func (s *TokenService) TokenID(token string) string {
	claims, err := s.parse(token)
	if err != nil {
		return ""
	}
	return claims.ID
}

func (s *TokenService) parse(token string) (*jwt.RegisteredClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		s.logger.Debug("token rejected", "reason", "empty")
		return nil, ErrUnauthenticated
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		s.logger.Debug("token rejected", "reason", err.Error())
		return nil, ErrUnauthenticated
	}
	if reason := s.checkClaims(claims); reason != "" || !parsed.Valid {
		s.logger.Debug("token rejected", "reason", reason)
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

// checkClaims applies the time and issuer rules. Expiry is strict with no
// leeway: a token is rejected once now is after exp.
func (s *TokenService) checkClaims(claims *jwt.RegisteredClaims) string {
	switch {
	case claims.ExpiresAt == nil:
		return "missing exp"
	case s.now().After(claims.ExpiresAt.Time):
		return "expired"
	case claims.Issuer != s.issuer:
		return "issuer mismatch"
	case strings.TrimSpace(claims.Subject) == "":
		return "missing subject"
	}
	return ""
}
