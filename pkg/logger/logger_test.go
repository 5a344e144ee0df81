package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestWithContextInjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	prev := globalLogger
	globalLogger = slog.New(NewHandler(&buf, Config{Level: "debug", Format: "json"}))
	defer func() { globalLogger = prev }()

	ctx := WithRequestID(WithTraceID(context.Background(), "trace-1"), "req-1")
	Info(ctx, "proposal built", "symbol", "BTCUSDT")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["trace_id"] != "trace-1" || entry["request_id"] != "req-1" {
		t.Fatalf("ids missing from %v", entry)
	}
	if entry["symbol"] != "BTCUSDT" || entry["msg"] != "proposal built" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	prev := globalLogger
	globalLogger = slog.New(NewHandler(&buf, Config{Level: "warn", Format: "text"}))
	defer func() { globalLogger = prev }()

	Info(context.Background(), "dropped")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	Warn(context.Background(), "kept")
	if buf.Len() == 0 {
		t.Fatal("warn not written")
	}
}
