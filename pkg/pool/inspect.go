package pool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ProcessInspector abstracts host process table access so the supervisor's
// reconciliation logic is independent of the platform process API.
type ProcessInspector interface {
	// ListMatching returns the PIDs of every live process matching the
	// worker launch signature. No matches is an empty slice, not an error.
	ListMatching(ctx context.Context) ([]int, error)
	// Alive reports whether the process with the given PID exists.
	Alive(pid int) bool
	// Signal delivers sig to pid. A negative pid targets the process group.
	Signal(pid int, sig syscall.Signal) error
}

// CommandRunner abstracts external command execution (for testing).
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// execRunner runs real commands.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return string(out), err
}

// DefaultInspectTimeout bounds a single process table enumeration.
const DefaultInspectTimeout = 5 * time.Second

// PgrepInspector matches worker processes by their command-line signature
// using pgrep -f. Liveness is signal 0.
type PgrepInspector struct {
	// Signature is the command-line substring identifying a resident
	// worker (e.g. "vivarium worker").
	Signature string
	// Timeout bounds each pgrep invocation.
	Timeout time.Duration

	runner CommandRunner
}

// NewPgrepInspector creates a production inspector for the given worker
// launch signature.
func NewPgrepInspector(signature string) *PgrepInspector {
	return &PgrepInspector{
		Signature: signature,
		Timeout:   DefaultInspectTimeout,
		runner:    execRunner{},
	}
}

// SetRunner replaces the command runner (for testing).
func (pi *PgrepInspector) SetRunner(r CommandRunner) { pi.runner = r }

// ListMatching enumerates live processes whose command line matches the
// signature. The supervisor's own PID is excluded. pgrep exiting with "no
// match" is an empty result, not an error.
func (pi *PgrepInspector) ListMatching(ctx context.Context) ([]int, error) {
	timeout := pi.Timeout
	if timeout <= 0 {
		timeout = DefaultInspectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := pi.runner.Run(ctx, "pgrep", "-f", pi.Signature)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("process enumeration timed out: %w", ctx.Err())
		}
		// pgrep exits 1 when nothing matches.
		return []int{}, nil //nolint:nilerr // no match is an empty pool, not a failure
	}

	self := os.Getpid()
	pids := parsePIDs(out)
	filtered := pids[:0]
	for _, pid := range pids {
		if pid != self {
			filtered = append(filtered, pid)
		}
	}
	return filtered, nil
}

// Alive checks process existence by sending signal 0.
func (pi *PgrepInspector) Alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Signal delivers sig to pid via the OS.
func (pi *PgrepInspector) Signal(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(pid, sig); err != nil {
		return fmt.Errorf("signal %v to PID %d: %w", sig, pid, err)
	}
	return nil
}

// parsePIDs parses newline-separated PIDs from pgrep output.
func parsePIDs(output string) []int {
	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}
