package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "reminder"))
	log.Warn("dispatch failed", Int64("campaign_id", 7), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if m["comp"] != "reminder" || m["message"] != "dispatch failed" || m["err"] != "boom" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["campaign_id"].(float64) != 7 {
		t.Fatalf("campaign_id=%v", m["campaign_id"])
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Info("ignored")
	if Nop().IsZero() {
		t.Fatalf("Nop should not be zero")
	}
}

func TestFormatChatLine(t *testing.T) {
	t.Parallel()
	got := formatChatLine([]byte(`{"level":"warn","message":"pass failed","b":"2","a":1,"time":"x"}`))
	want := "[WARN] pass failed\n- a=1\n- b=2"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if raw := formatChatLine([]byte("  not json \n")); raw != "not json" {
		t.Fatalf("raw=%q", raw)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	if parseLevel("warning", LevelInfo) != LevelWarn {
		t.Fatalf("warning should map to warn")
	}
	if parseLevel("bogus", LevelError) != LevelError {
		t.Fatalf("unknown level should fall back")
	}
	if !strings.EqualFold(LevelDebug.String(), "debug") {
		t.Fatalf("level string: %s", LevelDebug.String())
	}
}
