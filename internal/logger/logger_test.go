package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

func TestInitWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := InitWriter(&buf, "test-service", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	logger.Debug("hidden")
	logger.Info("hello", "bars", 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["service"] != "test-service" || rec["msg"] != "hello" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestRunID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if id := RunID(ctx); id != "" {
		t.Errorf("expected empty run id, got %q", id)
	}

	id := NewRunID()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("run id %q is not a uuid: %v", id, err)
	}
	ctx = WithRunID(ctx, id)
	if got := RunID(ctx); got != id {
		t.Errorf("expected %q, got %q", id, got)
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "test", slog.LevelInfo)

	FromContext(WithRunID(context.Background(), "run-1")).Info("tick")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["run_id"] != "run-1" {
		t.Errorf("expected run_id attribute, got %v", rec)
	}
}
