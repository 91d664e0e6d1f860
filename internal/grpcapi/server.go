// Package grpcapi exposes the gRPC surface: health reporting and the bearer
// token pipeline applied to unary calls.
package grpcapi

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"backoffice.io/internal/auth"
	"backoffice.io/internal/obs"
)

// ServiceName is the health entry reported alongside the overall status.
const ServiceName = "backoffice.identity"

// ReadinessChecker reports whether dependencies are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// Server bundles the grpc.Server with its health reporting.
type Server struct {
	*grpc.Server
	health    *health.Server
	readiness ReadinessChecker
	logger    *slog.Logger
}

// NewServer wires interceptors and registers the health service. policies
// maps full method names to the authorities allowed to call them.
func NewServer(authn *auth.Authenticator, readiness ReadinessChecker, policies map[string][]string, opts ...grpc.ServerOption) *Server {
	s := &Server{
		health:    health.NewServer(),
		readiness: readiness,
		logger:    obs.Component("grpc"),
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(
		LoggingUnaryInterceptor(s.logger),
		AuthUnaryInterceptor(authn),
		AuthorizeUnaryInterceptor(policies),
	))
	s.Server = grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s.Server, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Refresh updates the health status from the readiness checker.
func (s *Server) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.readiness != nil {
		if err := s.readiness.Check(ctx); err != nil {
			s.logger.WarnContext(ctx, "readiness check failed", "error", err.Error())
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// WatchReadiness refreshes health every interval until ctx is done.
func (s *Server) WatchReadiness(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.Refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown marks the service as not serving and stops gracefully.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.Server.GracefulStop()
}
