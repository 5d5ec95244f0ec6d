package logging

import (
	"log/slog"
	"strings"
	"testing"
)

func TestStreamHubTailReturnsRecentLines(t *testing.T) {
	hub := NewStreamHub(3)
	hub.Append("one")
	hub.Append("two")
	hub.Append("three")
	hub.Append("four")

	got := hub.Tail(0)
	want := []string{"two", "three", "four"}
	if len(got) != len(want) {
		t.Fatalf("tail length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tail[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	limited := hub.Tail(1)
	if len(limited) != 1 || limited[0] != "four" {
		t.Fatalf("tail(1) = %v, want [four]", limited)
	}
}

func TestStreamHubWriteBuffersPartialLines(t *testing.T) {
	hub := NewStreamHub(8)
	if _, err := hub.Write([]byte("first line\nsecond ")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := hub.Write([]byte("half\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := hub.Tail(0)
	if len(got) != 2 {
		t.Fatalf("retained %d lines, want 2: %v", len(got), got)
	}
	if got[1] != "second half" {
		t.Fatalf("split line = %q, want %q", got[1], "second half")
	}
}

func TestLoggerCopiesLinesIntoStream(t *testing.T) {
	hub := NewStreamHub(16)
	logger, err := New(Options{Level: "info", Format: "console", OutputPaths: []string{"stdout"}, Stream: hub})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("pipeline started", slog.String("job_id", "abc123"))

	lines := hub.Tail(0)
	if len(lines) == 0 {
		t.Fatal("stream received no lines")
	}
	if !strings.Contains(lines[len(lines)-1], "pipeline started") {
		t.Fatalf("line %q missing message", lines[len(lines)-1])
	}
}
