package storage

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// JobLog appends timestamped lines to a job's log file and serves bounded
// tails of it. Safe for concurrent use by one process.
type JobLog struct {
	mu   sync.Mutex
	path string
}

// OpenJobLog prepares a JobLog for the given tree. The file is created lazily
// on first append.
func OpenJobLog(tree JobTree) *JobLog {
	return &JobLog{path: tree.LogPath()}
}

// Path returns the log file location.
func (l *JobLog) Path() string { return l.path }

// Append writes one line with a UTC timestamp prefix.
func (l *JobLog) Append(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open job log: %w", err)
	}
	defer file.Close()

	stamp := time.Now().UTC().Format(time.RFC3339)
	if _, err := fmt.Fprintf(file, "%s %s\n", stamp, strings.TrimRight(line, "\n")); err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	return nil
}

// Appendf formats and appends one line.
func (l *JobLog) Appendf(format string, args ...any) error {
	return l.Append(fmt.Sprintf(format, args...))
}

// Tail returns up to limit lines from the end of the log. A missing file
// yields an empty tail.
func (l *JobLog) Tail(limit int) ([]string, error) {
	return TailFile(l.path, limit)
}

// TailFile returns up to limit lines from the end of a log file.
func TailFile(path string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	ring := make([]string, limit)
	count := 0
	idx := 0
	for scanner.Scan() {
		ring[idx] = scanner.Text()
		idx = (idx + 1) % limit
		if count < limit {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}

	lines := make([]string, count)
	if count == limit {
		for i := 0; i < count; i++ {
			lines[i] = ring[(idx+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, nil
}
