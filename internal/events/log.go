package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogFileName is the name of the lifecycle log within a session directory.
const LogFileName = "lifecycle_events.jsonl"

// Log appends lifecycle events to a session's JSONL audit stream.
// The stream is write-once: lines are only ever appended, never rewritten.
// Multiple processes append concurrently; each line is written in a single
// O_APPEND write so lines from different processes never interleave.
type Log struct {
	path string
	mu   sync.Mutex
}

// NewLog returns a Log for the given session directory.
func NewLog(sessionDir string) *Log {
	return &Log{path: filepath.Join(sessionDir, LogFileName)}
}

// Append writes one event to the log. A zero Timestamp is stamped with the
// current time. Append is best-effort from the caller's perspective: the
// error is returned for logging, but callers must not let it fail the
// operation that produced the event.
func (l *Log) Append(ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Read returns all events currently in the log. Unparsable lines are
// skipped, not fatal, since a crashed writer may have left a torn tail.
func (l *Log) Read() ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("failed to scan event log: %w", err)
	}
	return events, nil
}
