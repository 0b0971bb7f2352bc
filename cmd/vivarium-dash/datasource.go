package main

import (
	"os"
	"path/filepath"

	"vivarium/pkg/audit"
	"vivarium/pkg/pool"
)

// gateWindow is how many recent gate events feed the health snapshot.
const gateWindow = 50

// recentEventLimit caps the events table.
const recentEventLimit = 20

// vivariumHome returns the state directory from env or ~/.vivarium.
func vivariumHome() string {
	if v := os.Getenv("VIVARIUM_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".vivarium")
}

// statePath returns the pool state snapshot path from env or default.
func statePath() string {
	if v := os.Getenv("VIVARIUM_STATE_PATH"); v != "" {
		return v
	}
	return filepath.Join(vivariumHome(), "pool_state.json")
}

// auditPath returns the audit trail path from env or default.
func auditPath() string {
	if v := os.Getenv("VIVARIUM_AUDIT_PATH"); v != "" {
		return v
	}
	return filepath.Join(vivariumHome(), "audit.jsonl")
}

// fetchPoolState reads the persisted pool snapshot. A missing or
// unreadable snapshot reads as an empty pool.
func fetchPoolState(path string) pool.State {
	st, err := pool.LoadState(path)
	if err != nil {
		return pool.State{RunningSource: pool.SourceNone}
	}
	return st
}

// fetchGateSnapshot aggregates gate health from the audit trail.
func fetchGateSnapshot(path string) audit.Snapshot {
	snap, err := audit.GateMetricsFromFile(path, gateWindow)
	if err != nil {
		return audit.Snapshot{LastQueries: []audit.QuerySummary{}}
	}
	return snap
}

// fetchRecentEvents returns the newest audit entries, newest first.
func fetchRecentEvents(path string, limit int) []audit.Entry {
	entries, err := audit.ReadAll(path)
	if err != nil {
		return nil
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	// Reverse so the newest entry is first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}
