// Package pool implements the worker pool supervisor: it starts, stops,
// and reconciles a target number of resident worker processes against what
// is actually running on the host, and persists its view of the pool as a
// single overwritten JSON snapshot.
package pool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Source classifies where the running processes came from.
type Source string

const (
	// SourceNone means nothing is running.
	SourceNone Source = "none"
	// SourceManaged means every live PID was launched by this supervisor.
	SourceManaged Source = "managed"
	// SourceUnmanaged means live workers exist but none were launched here.
	SourceUnmanaged Source = "unmanaged"
	// SourceMixed means both managed and unmanaged workers are live.
	SourceMixed Source = "mixed"
)

// State is the supervisor's persisted view of the pool. Field names match
// the control API payload.
type State struct {
	Running       bool       `json:"running"`
	PIDs          []int      `json:"pids"`
	UnmanagedPIDs []int      `json:"unmanaged_pids"`
	RunningCount  int        `json:"running_count"`
	TargetCount   int        `json:"target_count"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	RunningSource Source     `json:"running_source"`
}

// emptyState returns the zero pool with non-nil PID slices so the JSON
// snapshot always carries arrays, never null.
func emptyState() State {
	return State{
		PIDs:          []int{},
		UnmanagedPIDs: []int{},
		RunningSource: SourceNone,
	}
}

// LoadState reads the snapshot at path. A missing file yields the empty
// state: the pool starts empty at first supervisor use.
func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path) //nolint:gosec // state path is controlled by the application
	if err != nil {
		if os.IsNotExist(err) {
			return emptyState(), nil
		}
		return State{}, fmt.Errorf("read pool state %s: %w", path, err)
	}

	st := emptyState()
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parse pool state %s: %w", path, err)
	}
	if st.PIDs == nil {
		st.PIDs = []int{}
	}
	if st.UnmanagedPIDs == nil {
		st.UnmanagedPIDs = []int{}
	}
	return st, nil
}

// SaveState atomically overwrites the snapshot at path (write to a temp
// file in the same directory, then rename) so a crash mid-write never
// leaves a half-written snapshot.
func SaveState(path string, st State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pool state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write pool state %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace pool state %s: %w", path, err)
	}
	return nil
}

// classifySource derives the running source from the live managed and
// unmanaged PID sets. It is a pure function, recomputed on every status
// read, never cached across a start/stop transition.
func classifySource(managed, unmanaged []int) Source {
	switch {
	case len(managed) == 0 && len(unmanaged) == 0:
		return SourceNone
	case len(unmanaged) == 0:
		return SourceManaged
	case len(managed) == 0:
		return SourceUnmanaged
	default:
		return SourceMixed
	}
}
