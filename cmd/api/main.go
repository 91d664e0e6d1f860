package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"backoffice.io/internal/auth"
	"backoffice.io/internal/cache"
	"backoffice.io/internal/config"
	"backoffice.io/internal/grpcapi"
	"backoffice.io/internal/httpapi"
	"backoffice.io/internal/obs"
	"backoffice.io/internal/store/memory"
	"backoffice.io/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("BACKOFFICE_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err.Error())
		os.Exit(1)
	}

	logger := obs.NewLogger(os.Stdout, cfg.LogLevel)
	obs.SetLogger(logger)
	slog.SetDefault(logger)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret: cfg.JWTSecret,
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.TokenTTL,
	})
	if err != nil {
		return err
	}

	var (
		users auth.IdentityStore
		ready httpapi.ReadyProbe
	)
	if cfg.DatabaseURL != "" {
		store, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()
		if cfg.AutoMigrate {
			mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			_, err := store.Migrate(mctx)
			cancel()
			if err != nil {
				return err
			}
		}
		users = store
		ready.DB = store.DB()
	} else {
		logger.Warn("no database configured; using in-memory identity store")
		users = memory.NewIdentityStore()
	}

	var lockouts auth.LockoutStore = memory.NewLockoutStore()
	if cfg.RedisURL != "" {
		var client *redis.Client
		client, err = cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		lockouts = cache.NewRedisLockoutStore(client)
		ready.Redis = client
	}

	svc, err := auth.NewService(users, auth.NewBcryptHasher(cfg.BcryptCost), tokens,
		auth.WithDefaultRole(cfg.DefaultRole),
		auth.WithLockout(lockouts, cfg.LoginFailedThreshold, cfg.LoginLockout),
	)
	if err != nil {
		return err
	}

	if cfg.BootstrapAdmin {
		if err := svc.BootstrapAdmin(ctx, auth.BootstrapConfig{
			Username:     cfg.AdminUsername,
			Email:        cfg.AdminEmail,
			PasswordPath: cfg.AdminPasswordPath,
			LogPassword:  cfg.AdminPasswordLog,
		}); err != nil {
			return err
		}
	}

	api := httpapi.New(svc, httpapi.Options{
		Version:        version,
		Ready:          ready,
		AllowedOrigins: cfg.AllowedCORSOrigins,
		RateBurst:      cfg.RateLimitBurst,
		RatePerSecond:  cfg.RateLimitPerSecond,
		TrustedProxies: cfg.TrustedProxyPrefixes(),
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Only the health service is registered and probes call it anonymously.
	grpcSrv := grpcapi.NewServer(svc.Authenticator(), ready, nil)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	go grpcSrv.WatchReadiness(ctx, 10*time.Second)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", "addr", httpSrv.Addr, "version", version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("grpc listening", "addr", grpcLis.Addr().String())
		if err := grpcSrv.Serve(grpcLis); err != nil {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		logger.Error("server failed", "error", serveErr.Error())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err.Error())
	}
	grpcSrv.Shutdown()
	logger.Info("stopped")
	return serveErr
}
