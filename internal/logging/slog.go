package logging

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/avast/labmanager-unit-vsphere/internal/observability"
)

var (
	opLogger atomic.Pointer[slog.Logger]
	logLevel = new(slog.LevelVar)
)

func init() {
	logLevel.Set(slog.LevelInfo)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	opLogger.Store(logger)
}

// Op returns the operational logger for daemon/infrastructure logs.
// This is separate from the request Logger which logs individual Action dispatches.
func Op() *slog.Logger {
	return opLogger.Load()
}

// OpContext returns the operational logger annotated with the request
// correlation id carried on ctx, if any, so a single HTTP Intake call's
// log lines can be grepped together.
func OpContext(ctx context.Context) *slog.Logger {
	id := observability.RequestIDFromContext(ctx)
	if id == "" {
		return Op()
	}
	return Op().With("request_id", id)
}

// SetLevel changes the log level for the operational logger.
// Valid levels: slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLevelFromString sets the log level from a string.
// Valid values: "debug", "info", "warn", "error"
func SetLevelFromString(level string) {
	switch level {
	case "debug", "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "info", "INFO":
		logLevel.Set(slog.LevelInfo)
	case "warn", "WARN", "warning", "WARNING":
		logLevel.Set(slog.LevelWarn)
	case "error", "ERROR":
		logLevel.Set(slog.LevelError)
	}
}
