package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"backoffice.io/api/spec"
	"backoffice.io/internal/audit"
	"backoffice.io/internal/auth"
	"backoffice.io/internal/obs"
)

const maxBodyBytes = 1 << 20

// ReadyProbe checks the dependencies the API cannot serve without.
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return errors.New("database unavailable")
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return errors.New("redis unavailable")
		}
	}
	return nil
}

// Options tunes the HTTP layer.
type Options struct {
	Version        string
	Ready          ReadyProbe
	AllowedOrigins []string
	RateBurst      int
	RatePerSecond  int
	// TrustedProxies may set X-Forwarded-For; all other peers are keyed by RemoteAddr.
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer over the identity service.
type API struct {
	svc     *auth.Service
	authn   *auth.Authenticator
	ready   ReadyProbe
	version string
	origins []string
	proxies []netip.Prefix
	limiter *RateLimiter
}

func New(svc *auth.Service, opts Options) *API {
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	return &API{
		svc:     svc,
		authn:   svc.Authenticator(),
		ready:   opts.Ready,
		version: opts.Version,
		origins: opts.AllowedOrigins,
		proxies: opts.TrustedProxies,
		limiter: NewRateLimiter(opts.RateBurst, opts.RatePerSecond),
	}
}

// Handler returns the fully wired router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(ClientIP(a.proxies), RequestID, Logging, Recover, SecurityHeaders, CORS(a.origins), MaxBodyBytes(maxBodyBytes), Authenticate(a.authn))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/openapi.yaml", a.OpenAPISpec)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(a.limiter.Middleware)
			r.Post("/auth/sign-in", a.handleSignIn)
			r.Post("/auth/sign-up", a.handleSignUp)
			r.Post("/auth/validate-token", a.handleValidateToken)
		})
		r.With(RequireAuthenticated).Get("/auth/me", a.handleMe)
		r.With(RequireAnyAuthority(auth.AuthorityAdmin, auth.AuthorityUserRead)).Get("/users/{id}", a.handleGetUser)
		r.With(RequireAnyAuthority(auth.AuthorityAdmin, auth.AuthorityRoleRead)).Get("/roles/{id}", a.handleGetRole)
	})

	return obs.Instrument(r)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "backoffice-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
