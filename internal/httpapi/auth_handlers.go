package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"backoffice.io/internal/audit"
	"backoffice.io/internal/auth"
	"backoffice.io/internal/obs"
)

type signInRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
}

type signInResponse struct {
	User      auth.PublicProfile `json:"user"`
	Token     string             `json:"token"`
	TokenType string             `json:"tokenType"`
	ExpiresAt time.Time          `json:"expiresAt"`
}

type signUpRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type validateTokenRequest struct {
	Token string `json:"token"`
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.UsernameOrEmail) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "usernameOrEmail and password are required")
		return
	}

	res, err := a.svc.Login(r.Context(), req.UsernameOrEmail, req.Password)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.sign_in.failed", map[string]any{
			"identifier": auth.Normalize(req.UsernameOrEmail),
			"remote_ip":  clientIP(r),
		})
		handleAuthError(w, r, err)
		return
	}

	ctx := auth.ContextWithPrincipal(r.Context(), res.Principal)
	_ = audit.LogEvent(ctx, "auth.sign_in", map[string]any{
		"expires_at": res.ExpiresAt.Format(time.RFC3339),
		"remote_ip":  clientIP(r),
	})
	writeJSON(w, http.StatusOK, signInResponse{
		User:      res.Profile,
		Token:     res.Token,
		TokenType: "Bearer",
		ExpiresAt: res.ExpiresAt,
	})
}

func (a *API) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	profile, err := a.svc.Register(r.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.sign_up", map[string]any{
		"user_id":  profile.ID,
		"username": profile.Username,
	})
	writeJSON(w, http.StatusCreated, profile)
}

func (a *API) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	var req validateTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	principal, err := a.svc.ValidateToken(r.Context(), req.Token)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.writeProfile(w, r, principal.ID)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	a.writeProfile(w, r, principal.ID)
}

func (a *API) writeProfile(w http.ResponseWriter, r *http.Request, userID string) {
	profile, err := a.svc.Profile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			WriteUnauthorized(w, r)
			return
		}
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleAuthError maps service errors to responses. Credential and token
// failures never reveal why they failed.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeProblem(w, r, http.StatusUnauthorized, msgInvalidCredentials)
	case errors.Is(err, auth.ErrUnauthenticated):
		WriteUnauthorized(w, r)
	case errors.Is(err, auth.ErrForbidden):
		WriteForbidden(w, r)
	case errors.Is(err, auth.ErrTooManyAttempts):
		w.Header().Set("Retry-After", "60")
		writeError(w, r, http.StatusTooManyRequests, "too many failed sign-in attempts, try again later")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), auth.ErrInvalidInput.Error()+": "))
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "username or email already registered")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusServiceUnavailable, "request cancelled")
	default:
		obs.Component("http").ErrorContext(r.Context(), "request failed",
			"request_id", audit.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err.Error())
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
