// Package logger provides structured logging on log/slog: a JSON handler
// with service-level context, optional rotating file output and trace ID
// propagation through context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Options configures New.
type Options struct {
	Service string
	Level   slog.Level

	// File, when set, also writes logs to a rotating file.
	File       string
	MaxSizeMB  int // default 10
	MaxBackups int // default 3
	MaxAgeDays int // default 28

	// Out replaces stdout (tests).
	Out io.Writer
}

// New creates a structured logger and installs it as the slog default so
// log/slog.Info() etc. also use structured output.
func New(opts Options) *slog.Logger {
	var w io.Writer = os.Stdout
	if opts.Out != nil {
		w = opts.Out
	}
	if opts.File != "" {
		rot := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}
		w = io.MultiWriter(w, rot)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: opts.Level,
	})
	logger := slog.New(handler).With(
		slog.String("service", opts.Service),
	)
	slog.SetDefault(logger)
	return logger
}

// Init creates a stdout-only logger for the given service.
func Init(service string, level slog.Level) *slog.Logger {
	return New(Options{Service: service, Level: level})
}

// ParseLevel maps debug|info|warn|error to a slog level (info otherwise).
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID creates a trace ID from a command name and timestamp.
// Format: "{name}-{unixNano}".
func GenerateTraceID(name string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", name, ts.UnixNano())
}

// LogWithTrace returns slog attributes including the trace ID from context.
// Usage: slog.Info("msg", logger.LogWithTrace(ctx)...)
func LogWithTrace(ctx context.Context) []any {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []any{slog.String("trace_id", tid)}
}
