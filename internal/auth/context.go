package auth

import (
	"context"
	"slices"
)

type principalKey struct{}

// ContextWithPrincipal returns a copy of ctx carrying p for the rest of one request.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	p.Authorities = slices.Clone(p.Authorities)
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal attached by the request
// pipeline. Anonymous requests report false.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// TokenIDFromContext returns the jti of the token that authenticated the
// request, or "" for anonymous requests.
func TokenIDFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.TokenID
}
