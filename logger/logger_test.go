package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

func TestSLogLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewSLogLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	l.Error("permission cache load failed",
		"cache_key", 3,
		"epoch", uint32(7),
		"loaded", false,
		"error", errors.New("db down"),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["msg"] != "permission cache load failed" || rec["level"] != "ERROR" {
		t.Fatalf("unexpected record %v", rec)
	}
	if rec["error"] != "db down" || rec["cache_key"] != float64(3) || rec["epoch"] != float64(7) || rec["loaded"] != false {
		t.Fatalf("unexpected fields %v", rec)
	}
}

func TestSLogLoggerIgnoresDanglingKey(t *testing.T) {
	var buf bytes.Buffer
	l := NewSLogLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	l.Info("dispatched", "context_id")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if _, ok := rec["context_id"]; ok {
		t.Fatalf("a key without a value must be dropped")
	}
}

func TestNullLoggerIsALogger(t *testing.T) {
	var l Logger = NewNullLogger()
	l.Debug("x", "k", "v")
	l.Info("x")
	l.Error("x", "error", errors.New("ignored"))
}
