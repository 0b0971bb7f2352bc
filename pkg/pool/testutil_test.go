package pool_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"

	"vivarium/pkg/audit"
	"vivarium/pkg/pool"
)

// fakeHost simulates the host process table. It implements both
// pool.ProcessInspector and pool.Spawner so tests control liveness,
// signature matching, and signal behavior deterministically.
type fakeHost struct {
	mu      sync.Mutex
	alive   map[int]bool
	foreign []int // live PIDs matching the signature but not spawned here
	nextPID int
	signals map[int][]syscall.Signal

	ignoreTerm bool // process survives SIGTERM
	ignoreKill bool // process survives even SIGKILL
	spawnErr   error
	spawnAfter int // fail spawns after this many successes (0 = never fail)
	spawned    int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		alive:   make(map[int]bool),
		nextPID: 50000,
		signals: make(map[int][]syscall.Signal),
	}
}

func (h *fakeHost) ListMatching(_ context.Context) ([]int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var pids []int
	for pid, ok := range h.alive {
		if ok {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

func (h *fakeHost) Alive(pid int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive[pid]
}

func (h *fakeHost) Signal(pid int, sig syscall.Signal) error {
	if pid < 0 {
		pid = -pid
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.signals[pid] = append(h.signals[pid], sig)
	switch sig {
	case syscall.SIGTERM:
		if !h.ignoreTerm {
			h.alive[pid] = false
		}
	case syscall.SIGKILL:
		if !h.ignoreKill {
			h.alive[pid] = false
		}
	}
	return nil
}

func (h *fakeHost) Spawn(_ string) (*os.Process, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.spawnErr != nil && (h.spawnAfter == 0 || h.spawned >= h.spawnAfter) {
		return nil, h.spawnErr
	}
	h.nextPID++
	h.spawned++
	h.alive[h.nextPID] = true
	// FindProcess on Unix succeeds without checking existence.
	return os.FindProcess(h.nextPID)
}

func (h *fakeHost) Wait() {}

// addForeign registers a live worker process not launched by the
// supervisor under test.
func (h *fakeHost) addForeign(pid int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alive[pid] = true
	h.foreign = append(h.foreign, pid)
}

// kill simulates an external SIGKILL of one process.
func (h *fakeHost) kill(pid int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alive[pid] = false
}

func (h *fakeHost) sentSignals(pid int) []syscall.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]syscall.Signal{}, h.signals[pid]...)
}

// newSupervisor wires a Supervisor over a fakeHost with a fresh state file
// and audit trail.
func newSupervisor(t *testing.T, host *fakeHost, opts pool.Options) (*pool.Supervisor, *audit.Trail) {
	t.Helper()
	return newSupervisorWithParts(t, host, host, opts)
}

// newSupervisorWithParts wires a Supervisor from any inspector and spawner.
func newSupervisorWithParts(t *testing.T, inspector pool.ProcessInspector, spawner pool.Spawner, opts pool.Options) (*pool.Supervisor, *audit.Trail) {
	t.Helper()
	dir := t.TempDir()
	if opts.StatePath == "" {
		opts.StatePath = filepath.Join(dir, "worker_pool.json")
	}
	trail, err := audit.Open(filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		t.Fatalf("open trail: %v", err)
	}
	t.Cleanup(func() { _ = trail.Close() })
	return pool.New(opts, inspector, spawner, trail), trail
}
