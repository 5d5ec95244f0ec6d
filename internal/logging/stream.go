package logging

import (
	"bytes"
	"strings"
	"sync"
)

// StreamHub keeps a bounded ring of recent log lines in memory so the daemon
// can serve tail requests without re-reading log files. It implements
// io.Writer and is attached to the logger as an extra sink.
type StreamHub struct {
	mu       sync.Mutex
	capacity int
	lines    []string
	start    int
	count    int
	partial  []byte
}

// NewStreamHub creates a hub retaining up to capacity lines.
func NewStreamHub(capacity int) *StreamHub {
	if capacity <= 0 {
		capacity = 1024
	}
	return &StreamHub{
		capacity: capacity,
		lines:    make([]string, capacity),
	}
}

// Write splits the payload on newlines and appends complete lines. A trailing
// fragment is buffered until its newline arrives.
func (h *StreamHub) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data := p
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			h.partial = append(h.partial, data...)
			return len(p), nil
		}
		line := string(append(h.partial, data[:idx]...))
		h.partial = h.partial[:0]
		if trimmed := strings.TrimRight(line, "\r"); trimmed != "" {
			h.appendLocked(trimmed)
		}
		data = data[idx+1:]
	}
}

// Append records one complete line.
func (h *StreamHub) Append(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	h.mu.Lock()
	h.appendLocked(line)
	h.mu.Unlock()
}

func (h *StreamHub) appendLocked(line string) {
	idx := (h.start + h.count) % h.capacity
	h.lines[idx] = line
	if h.count < h.capacity {
		h.count++
		return
	}
	h.start = (h.start + 1) % h.capacity
}

// Tail returns the most recent limit lines in chronological order. A
// non-positive limit returns everything retained.
func (h *StreamHub) Tail(limit int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]string, 0, n)
	for i := h.count - n; i < h.count; i++ {
		out = append(out, h.lines[(h.start+i)%h.capacity])
	}
	return out
}

// Len reports how many lines are currently retained.
func (h *StreamHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}
