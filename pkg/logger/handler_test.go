package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func newTestHandler(buf *bytes.Buffer, opts *slog.HandlerOptions) *Handler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &Handler{
		opts:  opts,
		out:   buf,
		color: false,
		mu:    &sync.Mutex{},
		json:  slog.NewJSONHandler(buf, opts),
	}
}

func TestHandleJSONFallbackWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	h := newTestHandler(&buf, nil)
	l := slog.New(h)
	l.Info("hello", slog.String("k", "v"))

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected valid JSON line, got %q: %v", buf.String(), err)
	}
	if decoded["msg"] != "hello" || decoded["k"] != "v" {
		t.Fatalf("got %+v", decoded)
	}
}

func TestHandleColorizedLineIncludesLevelAndMessage(t *testing.T) {
	var buf bytes.Buffer
	h := newTestHandler(&buf, nil)
	h.color = true
	l := slog.New(h)
	l.Warn("disk low", slog.Int("percent", 5))

	out := buf.String()
	if !strings.Contains(out, "WARN") || !strings.Contains(out, "disk low") || !strings.Contains(out, "percent=5") {
		t.Fatalf("got line %q", out)
	}
}

func TestEnabledRespectsConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	h := newTestHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("expected info disabled when level is warn")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("expected error enabled when level is warn")
	}
}

func TestWithAttrsAppliesToSubsequentRecords(t *testing.T) {
	var buf bytes.Buffer
	h := newTestHandler(&buf, nil)
	l := slog.New(h).With(slog.String("component", "runner"))
	l.Info("tick")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if decoded["component"] != "runner" {
		t.Fatalf("got %+v", decoded)
	}
}
