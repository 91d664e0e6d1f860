package httpapi

import (
	"net/http"

	"backoffice.io/internal/auth"
)

const (
	authHeader = "Authorization"

	msgAuthenticationRequired = "Full authentication is required to access this resource"
	msgInvalidCredentials     = "Invalid username/email or password"
	msgAccessDenied           = "Access is denied"
)

// problem is the error body returned for authentication and authorization failures.
type problem struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

// Authenticate runs the bearer token pipeline on every request. It never
// writes a response: a principal is attached when the token checks out and
// the request continues anonymously otherwise.
func Authenticate(authn *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(authHeader)
			if r.Method == http.MethodOptions || header == "" {
				next.ServeHTTP(w, r)
				return
			}
			principal, ok := authn.Resolve(r.Context(), header)
			if !ok || r.Context().Err() != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireAuthenticated rejects anonymous requests with the 401 body.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.PrincipalFromContext(r.Context()); !ok {
			WriteUnauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAnyAuthority admits principals holding at least one of authorities.
// Anonymous requests get 401, authenticated ones without a match get 403.
func RequireAnyAuthority(authorities ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				WriteUnauthorized(w, r)
				return
			}
			if !principal.HasAnyAuthority(authorities...) {
				WriteForbidden(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteUnauthorized emits the generic 401 body. It never carries the reason
// authentication failed.
func WriteUnauthorized(w http.ResponseWriter, r *http.Request) {
	writeProblem(w, r, http.StatusUnauthorized, msgAuthenticationRequired)
}

// WriteForbidden emits the 403 body for an authenticated principal lacking authority.
func WriteForbidden(w http.ResponseWriter, r *http.Request) {
	writeProblem(w, r, http.StatusForbidden, msgAccessDenied)
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, message string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="backoffice"`)
	}
	writeJSON(w, status, problem{
		Status:  status,
		Error:   http.StatusText(status),
		Message: message,
		Path:    r.URL.Path,
	})
}
