package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogger_RingBuffer(t *testing.T) {
	l := New(3, LevelDebug, nil)
	for _, msg := range []string{"a", "b", "c", "d"} {
		l.Log(LevelInfo, CatSystem, msg, nil)
	}

	entries := l.GetEntries(0, nil, nil)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	// newest first, oldest dropped
	want := []string{"d", "c", "b"}
	for i, e := range entries {
		if e.Message != want[i] {
			t.Errorf("entry %d = %q, want %q", i, e.Message, want[i])
		}
	}

	if s := l.Stats(); s.Total != 3 || s.Capacity != 3 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestLogger_Filters(t *testing.T) {
	l := New(10, LevelInfo, nil)
	l.Log(LevelDebug, CatCard, "dropped", nil)
	l.Log(LevelInfo, CatCard, "card", nil)
	l.Log(LevelWarn, CatGateway, "gateway", nil)
	l.Log(LevelError, CatRegistry, "registry", nil)

	if n := len(l.GetEntries(0, nil, nil)); n != 3 {
		t.Errorf("entries below min level should be dropped, got %d", n)
	}

	warn := LevelWarn
	if got := l.GetEntries(0, &warn, nil); len(got) != 2 {
		t.Errorf("level filter returned %d entries", len(got))
	}

	cat := CatGateway
	got := l.GetEntries(0, nil, &cat)
	if len(got) != 1 || got[0].Message != "gateway" {
		t.Errorf("category filter returned %+v", got)
	}

	if got := l.GetEntries(1, nil, nil); len(got) != 1 || got[0].Message != "registry" {
		t.Errorf("limit should return the newest entry, got %+v", got)
	}

	l.Clear()
	if s := l.Stats(); s.Total != 0 {
		t.Errorf("Clear() left %d entries", s.Total)
	}
}

func TestLogger_ConsoleSink(t *testing.T) {
	var buf bytes.Buffer
	l := New(10, LevelInfo, &buf)
	l.Log(LevelWarn, CatOperation, "operation failed", map[string]any{"kind": "sign"})

	out := buf.String()
	for _, want := range []string{"operation failed", "category=", "operation", "kind=", "sign"} {
		if !strings.Contains(out, want) {
			t.Errorf("console output %q missing %q", out, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{"debug": LevelDebug, "info": LevelInfo, "warning": LevelWarn, "error": LevelError}
	for in, want := range tests {
		got, ok := ParseLevel(in)
		if !ok || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, ok)
		}
	}
	if _, ok := ParseLevel("verbose"); ok {
		t.Error("unknown level should not parse")
	}
}
