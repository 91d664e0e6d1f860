package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"backoffice.io/internal/obs"
)

const bearerPrefix = "Bearer "

// BearerToken extracts the token from an Authorization header value. The
// "Bearer " prefix must match exactly, case included.
func BearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

// Authenticator turns bearer tokens into principals, re-reading the user and
// its authorities from the store on every call.
type Authenticator struct {
	tokens *TokenService
	users  IdentityStore
	logger *slog.Logger
}

// NewAuthenticator wires the token service and the identity store.
func NewAuthenticator(tokens *TokenService, users IdentityStore, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = obs.Component("auth.pipeline")
	}
	return &Authenticator{tokens: tokens, users: users, logger: logger}
}

// Authenticate validates token and loads the active user it names.
// Token and subject failures return ErrUnauthenticated; a cancelled context
// returns ctx.Err(); store failures are wrapped and returned as is.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	if !a.tokens.Validate(token) {
		a.logger.WarnContext(ctx, "bearer token failed validation")
		return Principal{}, ErrUnauthenticated
	}
	subject, err := a.tokens.ParseSubject(token)
	if err != nil {
		return Principal{}, ErrUnauthenticated
	}

	user, err := a.users.FindByID(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			a.logger.WarnContext(ctx, "token subject not found", "subject", subject)
			return Principal{}, ErrUnauthenticated
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Principal{}, ctxErr
		}
		return Principal{}, fmt.Errorf("load user %s: %w", subject, err)
	}
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	if !user.Active {
		a.logger.WarnContext(ctx, "token subject is inactive", "subject", subject)
		return Principal{}, ErrUnauthenticated
	}
	principal := NewPrincipal(user)
	principal.TokenID = a.tokens.TokenID(token)
	return principal, nil
}

// Resolve runs the request pipeline for a raw Authorization header. It never
// fails: a missing or bad credential, a store error, a cancelled context or a
// panic all leave the caller anonymous (ok == false).
func (a *Authenticator) Resolve(ctx context.Context, authorization string) (p Principal, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.ErrorContext(ctx, "authentication panicked", "panic", fmt.Sprint(rec))
			obs.RequestAuthentication("error")
			p, ok = Principal{}, false
		}
	}()

	token, found := BearerToken(authorization)
	if !found {
		obs.RequestAuthentication("anonymous")
		return Principal{}, false
	}

	principal, err := a.Authenticate(ctx, token)
	switch {
	case err == nil:
		obs.RequestAuthentication("authenticated")
		return principal, true
	case errors.Is(err, ErrUnauthenticated):
		obs.RequestAuthentication("rejected")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		a.logger.DebugContext(ctx, "request ended during authentication", "error", err.Error())
		obs.RequestAuthentication("cancelled")
	default:
		a.logger.ErrorContext(ctx, "authentication failed unexpectedly", "error", err.Error())
		obs.RequestAuthentication("error")
	}
	return Principal{}, false
}
