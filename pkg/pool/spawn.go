package pool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
)

// Spawner abstracts resident worker process creation.
type Spawner interface {
	// Spawn starts one worker process with the given ID and returns it.
	Spawn(id string) (*os.Process, error)
	// Wait blocks until all spawned children have been reaped.
	Wait()
}

// ExecSpawner spawns worker subprocesses and reaps them in the background
// to avoid zombies. Each worker gets its own process group (Setpgid) so a
// stop can terminate the entire tree the worker forked.
//
// Thread-safe: the reaper WaitGroup and factory are fixed at construction.
type ExecSpawner struct {
	home string
	mu   sync.Mutex
	wg   sync.WaitGroup

	// cmdFactory builds the exec.Cmd for a given worker ID. Tests can
	// override this to spawn a dummy command like `sleep`.
	cmdFactory func(id string) *exec.Cmd
}

// NewSleepSpawner creates an ExecSpawner whose workers are `sleep 3600`
// dummies. Exercises the real spawn/reap path without a worker binary;
// production pools use NewWorkerSpawner.
func NewSleepSpawner(home string) *ExecSpawner {
	sp := &ExecSpawner{home: home}
	sp.cmdFactory = func(_ string) *exec.Cmd {
		//nolint:gosec // test-only dummy process
		return exec.CommandContext(context.Background(), "sleep", "3600")
	}
	return sp
}

// NewWorkerSpawner creates an ExecSpawner that re-executes the current
// binary as `<self> worker --id <id> --workspace <workspace>`. Worker
// output goes to home/workers/<id>/output.log.
func NewWorkerSpawner(home, workspace string) *ExecSpawner {
	sp := &ExecSpawner{home: home}
	self := os.Args[0]
	sp.cmdFactory = func(id string) *exec.Cmd {
		//nolint:gosec // intentionally spawning worker subprocess
		return exec.CommandContext(context.Background(), self, "worker", "--id", id, "--workspace", workspace)
	}
	return sp
}

// SetCmdFactory replaces the command factory (for testing).
func (sp *ExecSpawner) SetCmdFactory(factory func(id string) *exec.Cmd) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.cmdFactory = factory
}

// Spawn starts a new worker process with the given ID in its own process
// group, redirecting output to a per-worker log file when home is set.
func (sp *ExecSpawner) Spawn(id string) (*os.Process, error) {
	sp.mu.Lock()
	cmd := sp.cmdFactory(id)
	sp.mu.Unlock()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var logFile *os.File
	if sp.home == "" {
		fmt.Fprintf(os.Stderr, "warning: no home configured; worker %s output goes to the supervisor's streams\n", id)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		logDir := filepath.Join(sp.home, "workers", id)
		if err := os.MkdirAll(logDir, 0o700); err != nil {
			return nil, fmt.Errorf("create worker log dir %s: %w", logDir, err)
		}
		logPath := filepath.Join(logDir, "output.log")
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // log path is deterministic
		if err != nil {
			return nil, fmt.Errorf("open worker log %s: %w", logPath, err)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, fmt.Errorf("spawn worker %s: %w", id, err)
	}
	// The child inherited the log fd; the parent's copy can go.
	if logFile != nil {
		_ = logFile.Close()
	}

	// Reap the child in the background to avoid zombies.
	sp.wg.Add(1)
	go func() {
		defer sp.wg.Done()
		_ = cmd.Wait()
	}()

	return cmd.Process, nil
}

// Wait blocks until all reaper goroutines have completed.
func (sp *ExecSpawner) Wait() {
	sp.wg.Wait()
}
