package auth

import "errors"

var (
	// ErrInsecureSecret means the signing secret is unusable; the process must not serve.
	ErrInsecureSecret = errors.New("auth: signing secret missing or shorter than 32 characters")

	// ErrInvalidCredentials covers unknown identity, wrong password and inactive account alike.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrUnauthenticated is returned when a token cannot be turned into an active principal.
	ErrUnauthenticated = errors.New("auth: unauthenticated")

	// ErrForbidden is returned when a principal lacks a required authority.
	ErrForbidden = errors.New("auth: forbidden")

	// ErrTooManyAttempts is returned while an identifier is locked out after repeated failures.
	ErrTooManyAttempts = errors.New("auth: too many failed attempts")

	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")
)
