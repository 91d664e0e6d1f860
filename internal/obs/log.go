package obs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	loggerMu sync.RWMutex
	logger   = NewLogger(os.Stdout, "info")
)

// NewLogger builds a JSON line logger writing to w at the given level.
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps a textual level to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger returns the shared structured logger used across the service.
func Logger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetLogger replaces the shared logger and returns the previous one.
func SetLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Logger()
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	prev := logger
	logger = l
	return prev
}

// Component returns the shared logger tagged with a module name.
func Component(name string) *slog.Logger {
	return Logger().With("module", name)
}

// LogRequest emits a structured line with common HTTP fields.
func LogRequest(ctx context.Context, status int, attrs ...any) {
	l := Component("http")
	switch {
	case status >= 500:
		l.ErrorContext(ctx, "request_complete", attrs...)
	case status >= 400:
		l.WarnContext(ctx, "request_complete", attrs...)
	default:
		l.InfoContext(ctx, "request_complete", attrs...)
	}
}
