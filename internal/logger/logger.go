// Package logger configures structured JSON logging and carries the run id
// of a backtest or live session through context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

type ctxKey string

const runIDKey ctxKey = "run_id"

// Init builds a JSON logger on stdout tagged with the service name and makes
// it the slog default.
func Init(service string, level slog.Level) *slog.Logger {
	return InitWriter(os.Stdout, service, level)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler).With(slog.String("service", service))
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// NewRunID returns a fresh identifier for a session.
func NewRunID() string {
	return uuid.NewString()
}

// WithRunID stores the run id in ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID extracts the run id from ctx, or "" if unset.
func RunID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext returns the default logger annotated with the run id in ctx.
func FromContext(ctx context.Context) *slog.Logger {
	if id := RunID(ctx); id != "" {
		return slog.Default().With(slog.String("run_id", id))
	}
	return slog.Default()
}
