package grpcapi

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"backoffice.io/internal/auth"
)

const authorizationKey = "authorization"

// AuthUnaryInterceptor runs the bearer token pipeline on incoming metadata.
// Like the HTTP middleware it never rejects: failures leave the call anonymous.
func AuthUnaryInterceptor(authn *auth.Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if authn == nil {
			return handler(ctx, req)
		}
		header := authorizationFromMetadata(ctx)
		if header == "" {
			return handler(ctx, req)
		}
		if principal, ok := authn.Resolve(ctx, header); ok && ctx.Err() == nil {
			ctx = auth.ContextWithPrincipal(ctx, principal)
		}
		return handler(ctx, req)
	}
}

// AuthorizeUnaryInterceptor enforces policies keyed by full method name.
// Methods without a policy are public.
func AuthorizeUnaryInterceptor(policies map[string][]string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		required, guarded := policies[info.FullMethod]
		if !guarded {
			return handler(ctx, req)
		}
		principal, ok := auth.PrincipalFromContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "Full authentication is required to access this resource")
		}
		if len(required) > 0 && !principal.HasAnyAuthority(required...) {
			return nil, status.Error(codes.PermissionDenied, "Access is denied")
		}
		return handler(ctx, req)
	}
}

// LoggingUnaryInterceptor logs method, code and duration of each call.
func LoggingUnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		level := slog.LevelInfo
		if code != codes.OK {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "rpc_complete",
			"method", info.FullMethod,
			"code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}

func authorizationFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(authorizationKey)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimRight(values[0], "\r\n")
}
