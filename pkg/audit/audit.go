// Package audit implements the append-only audit trail shared by the
// supervisor, the sandbox, and the quality gate. Every trust-relevant
// decision is one JSON line in a single trail file; the file is the source
// of truth and in-memory state is only a cache over it.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Fields carries event-type-specific payload values. Known keys per event
// type are documented where the event is emitted (e.g. gate events carry
// "confidence" and "reason", sandbox checks carry "path" and "allowed").
type Fields map[string]any

// Entry is one immutable audit record. Entries are never mutated or removed
// after being written.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Event     string    `json:"event"`
	Fields    Fields    `json:"fields,omitempty"`
}

// Trail is an append-only JSONL event log. All appends go through a single
// mutex and the file is opened in O_APPEND mode, so two near-simultaneous
// entries never interleave their bytes.
type Trail struct {
	mu      sync.Mutex
	path    string
	f       *os.File
	entries []Entry
	closed  bool

	// nowFunc allows tests to control timestamps.
	nowFunc func() time.Time
}

// Open opens (creating if needed) the trail file at path in append mode.
// Parent directories are created as needed.
func Open(path string) (*Trail, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // trail path is controlled by the application
	if err != nil {
		return nil, fmt.Errorf("open audit trail %s: %w", path, err)
	}
	return &Trail{path: path, f: f, nowFunc: time.Now}, nil
}

// Path returns the trail file path.
func (t *Trail) Path() string { return t.path }

// SetNowFunc overrides the timestamp source (for testing).
func (t *Trail) SetNowFunc(fn func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nowFunc = fn
}

// Log appends a best-effort telemetry entry. A write failure is retried
// once and then swallowed with a warning on stderr — telemetry must never
// fail the caller.
func (t *Trail) Log(event string, fields Fields) {
	if err := t.append(event, fields); err != nil {
		if err = t.append(event, fields); err != nil {
			fmt.Fprintf(os.Stderr, "warning: audit write failed: %v\n", err)
		}
	}
}

// LogCritical appends a lifecycle-critical entry and propagates any write
// failure. Callers (start/stop) must not report success if their own audit
// record failed to persist.
func (t *Trail) LogCritical(event string, fields Fields) error {
	if err := t.append(event, fields); err != nil {
		return fmt.Errorf("audit write for %s: %w", event, err)
	}
	return nil
}

// append marshals one entry, writes it as a single line, and fsyncs before
// returning so the record survives a crash immediately after Log returns.
func (t *Trail) append(event string, fields Fields) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("audit trail %s is closed", t.path)
	}

	e := Entry{Timestamp: t.nowFunc(), Event: event, Fields: fields}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	data = append(data, '\n')

	if _, err := t.f.Write(data); err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	if err := t.f.Sync(); err != nil {
		return fmt.Errorf("sync trail: %w", err)
	}

	t.entries = append(t.entries, e)
	return nil
}

// Entries returns a copy of every entry written through this Trail handle,
// in insertion order. Used for post-hoc review, never for access decisions.
func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries written through this handle.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Close flushes and releases the trail file handle. Safe to call multiple
// times; appends after Close fail.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.f.Close(); err != nil {
		return fmt.Errorf("close audit trail: %w", err)
	}
	return nil
}

// ReadAll reads every complete entry from the trail file at path, in
// insertion order. A missing file yields an empty slice. A truncated or
// malformed line (crash mid-write, or a writer appending concurrently) is
// skipped rather than treated as corruption of the whole file.
func ReadAll(path string) ([]Entry, error) {
	f, err := os.Open(path) //nolint:gosec // trail path is controlled by the application
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit trail %s: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // incomplete final line or garbage — skip
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit trail %s: %w", path, err)
	}
	return entries, nil
}
