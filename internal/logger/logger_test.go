package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNew_ServiceFieldAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Service: "chartfeed", Level: slog.LevelWarn, Out: &buf})

	log.Info("dropped")
	log.Warn("kept", slog.String("symbol", "AAPL"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line above warn level, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["service"] != "chartfeed" || rec["symbol"] != "AAPL" || rec["msg"] != "kept" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestNew_RotatingFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "chartfeed.log")
	log := New(Options{Service: "chartfeed", Level: slog.LevelInfo, Out: &buf, File: path})

	log.Info("to both")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "to both") {
		t.Errorf("file missing record: %q", data)
	}
	if !strings.Contains(buf.String(), "to both") {
		t.Errorf("stdout writer missing record: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	// No trace ID set
	if tid := TraceID(ctx); tid != "" {
		t.Errorf("expected empty trace id, got %q", tid)
	}

	ctx = WithTraceID(ctx, "test-trace-123")
	if tid := TraceID(ctx); tid != "test-trace-123" {
		t.Errorf("expected 'test-trace-123', got %q", tid)
	}
}

func TestGenerateTraceID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	tid := GenerateTraceID("select", ts)

	if !strings.HasPrefix(tid, "select-") {
		t.Errorf("expected trace id to start with 'select-', got %s", tid)
	}
	if !strings.Contains(tid, "123456789") {
		t.Errorf("expected trace id to contain nanoseconds, got %s", tid)
	}
}

func TestLogWithTrace(t *testing.T) {
	ctx := context.Background()

	if attrs := LogWithTrace(ctx); attrs != nil {
		t.Errorf("expected nil attrs when no trace id, got %v", attrs)
	}

	ctx = WithTraceID(ctx, "abc-123")
	if attrs := LogWithTrace(ctx); len(attrs) != 1 {
		t.Fatalf("expected one attr with trace id set, got %v", attrs)
	}
}
