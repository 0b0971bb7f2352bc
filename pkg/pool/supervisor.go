package pool

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"vivarium/pkg/audit"
)

// SpawnError means the OS refused to create a worker process. Partial
// spawns that succeeded before the failure are recorded in the pool state,
// not rolled back — already-running workers must not be orphaned silently.
type SpawnError struct {
	WorkerID string
	Err      error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn worker %s: %v", e.WorkerID, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Options configures a Supervisor.
type Options struct {
	// StatePath is the pool state snapshot file.
	StatePath string
	// DefaultTarget is the resident worker count used when a start request
	// does not specify one. Sourced from the settings store.
	DefaultTarget int
	// GracePeriod is how long Stop waits after SIGTERM before escalating
	// to SIGKILL. Zero means escalate immediately.
	GracePeriod time.Duration
	// StopUnmanaged extends Stop to worker processes this supervisor did
	// not launch.
	StopUnmanaged bool
}

// Result is the outcome of a start or stop operation, shaped for the
// control API.
type Result struct {
	Success bool `json:"success"`
	State
	UnkillablePIDs []int  `json:"unkillable_pids,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Supervisor reconciles the persisted pool state against the host process
// table and mutates the pool. Status, Start, and Stop serialize on a single
// pool-level mutex held across the process-table inspection and the
// persisted-state write; a concurrent start and stop racing the same PID
// set could otherwise double-count or lose a process.
type Supervisor struct {
	mu        sync.Mutex
	opts      Options
	inspector ProcessInspector
	spawner   Spawner
	trail     *audit.Trail

	// nowFunc allows tests to control timestamps.
	nowFunc func() time.Time
}

// New creates a Supervisor.
func New(opts Options, inspector ProcessInspector, spawner Spawner, trail *audit.Trail) *Supervisor {
	if opts.DefaultTarget <= 0 {
		opts.DefaultTarget = 1
	}
	return &Supervisor{
		opts:      opts,
		inspector: inspector,
		spawner:   spawner,
		trail:     trail,
		nowFunc:   time.Now,
	}
}

// SetNowFunc overrides the timestamp source (for testing).
func (s *Supervisor) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFunc = fn
}

// Status reconciles against the host process table, recomputes the running
// source, persists the refreshed snapshot, and returns the state.
// Idempotent and safe to call repeatedly from any pool state.
func (s *Supervisor) Status(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.reconcileLocked(ctx)
	if err != nil {
		return State{}, err
	}
	if err := SaveState(s.opts.StatePath, st); err != nil {
		return State{}, err
	}
	return st, nil
}

// Start brings the pool up to the requested resident count (or the
// configured default when requested <= 0). At-or-above target is a success
// no-op. A spawn failure is reported after recording whatever partial
// progress occurred.
func (s *Supervisor) Start(ctx context.Context, requested int) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.reconcileLocked(ctx)
	if err != nil {
		return failure(st, err), err
	}

	target := requested
	if target <= 0 {
		target = s.opts.DefaultTarget
	}
	st.TargetCount = target

	var opErr error
	for len(st.PIDs)+len(st.UnmanagedPIDs) < target {
		id := newWorkerID()
		proc, err := s.spawner.Spawn(id)
		if err != nil {
			s.trail.Log("worker_spawn_failed", audit.Fields{"worker_id": id, "error": err.Error()})
			opErr = &SpawnError{WorkerID: id, Err: err}
			break
		}
		st.PIDs = append(st.PIDs, proc.Pid)
		if err := s.trail.LogCritical("worker_started", audit.Fields{"worker_id": id, "pid": proc.Pid}); err != nil {
			// The worker is running and stays recorded; the operation
			// itself must not claim success without its audit record.
			opErr = err
			break
		}
	}

	s.refreshDerived(&st)
	if err := SaveState(s.opts.StatePath, st); err != nil {
		return failure(st, err), err
	}
	if opErr != nil {
		return failure(st, opErr), opErr
	}
	return Result{Success: true, State: st}, nil
}

// Stop terminates the pool: SIGTERM to every managed PID (and unmanaged
// ones when configured), a bounded grace period, then SIGKILL for
// survivors. Stop is best-effort and always reports what happened; a
// process that cannot be killed is listed in the result, not raised as an
// error. Stop is also the cancellation primitive for the pool — there is
// no separate cancel signal.
func (s *Supervisor) Stop(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.reconcileLocked(ctx)
	if err != nil {
		return failure(st, err), err
	}

	targets := append([]int{}, st.PIDs...)
	if s.opts.StopUnmanaged {
		targets = append(targets, st.UnmanagedPIDs...)
	}

	var unkillable []int
	terminated := 0
	if len(targets) > 0 {
		unkillable = s.terminate(targets)
		terminated = len(targets) - len(unkillable)
	}

	st.PIDs = keepAlive(s.inspector, st.PIDs)
	st.UnmanagedPIDs = keepAlive(s.inspector, st.UnmanagedPIDs)
	s.refreshDerived(&st)

	if err := s.trail.LogCritical("pool_stopped", audit.Fields{
		"terminated": terminated,
		"unkillable": unkillable,
	}); err != nil {
		return failure(st, err), err
	}
	if err := SaveState(s.opts.StatePath, st); err != nil {
		return failure(st, err), err
	}

	return Result{Success: true, State: st, UnkillablePIDs: unkillable}, nil
}

// reconcileLocked loads the snapshot and cross-references it with the live
// process table: managed PIDs are pruned to the live set, every other
// matching process is classified unmanaged. Caller must hold s.mu.
func (s *Supervisor) reconcileLocked(ctx context.Context) (State, error) {
	st, err := LoadState(s.opts.StatePath)
	if err != nil {
		return State{}, err
	}

	matching, err := s.inspector.ListMatching(ctx)
	if err != nil {
		return State{}, fmt.Errorf("inspect process table: %w", err)
	}

	st.PIDs = keepAlive(s.inspector, st.PIDs)
	managedSet := make(map[int]bool, len(st.PIDs))
	for _, pid := range st.PIDs {
		managedSet[pid] = true
	}

	unmanaged := []int{}
	for _, pid := range matching {
		if !managedSet[pid] {
			unmanaged = append(unmanaged, pid)
		}
	}
	st.UnmanagedPIDs = unmanaged

	if st.TargetCount == 0 {
		st.TargetCount = s.opts.DefaultTarget
	}
	s.refreshDerived(&st)
	return st, nil
}

// refreshDerived recomputes the fields that are pure functions of the PID
// sets, and maintains startedAt across the empty/running transition.
func (s *Supervisor) refreshDerived(st *State) {
	st.RunningCount = len(st.PIDs) + len(st.UnmanagedPIDs)
	st.Running = st.RunningCount > 0
	st.RunningSource = classifySource(st.PIDs, st.UnmanagedPIDs)
	switch {
	case !st.Running:
		st.StartedAt = nil
	case st.StartedAt == nil:
		now := s.nowFunc()
		st.StartedAt = &now
	}
}

// terminate SIGTERMs every target (process group first, single process as
// fallback), waits up to the grace period, SIGKILLs survivors, and returns
// the PIDs that outlived even that.
func (s *Supervisor) terminate(targets []int) []int {
	for _, pid := range targets {
		s.signalTree(pid, syscall.SIGTERM)
	}

	survivors := s.awaitExit(targets, s.opts.GracePeriod)
	if len(survivors) == 0 {
		return nil
	}

	for _, pid := range survivors {
		s.signalTree(pid, syscall.SIGKILL)
	}
	// SIGKILL cannot be ignored, but give the kernel a moment to reap.
	return s.awaitExit(survivors, 250*time.Millisecond)
}

// signalTree delivers sig to the process group, falling back to the single
// process when the group signal fails (e.g. the PID is not a group leader).
func (s *Supervisor) signalTree(pid int, sig syscall.Signal) {
	if err := s.inspector.Signal(-pid, sig); err != nil {
		_ = s.inspector.Signal(pid, sig)
	}
}

// awaitExit polls liveness until every target is gone or the deadline
// passes, returning the survivors. A zero deadline checks exactly once.
func (s *Supervisor) awaitExit(targets []int, grace time.Duration) []int {
	deadline := time.Now().Add(grace)
	for {
		survivors := keepAlive(s.inspector, targets)
		if len(survivors) == 0 {
			return nil
		}
		if !time.Now().Before(deadline) {
			return survivors
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// keepAlive filters pids down to those still present on the host.
func keepAlive(inspector ProcessInspector, pids []int) []int {
	alive := []int{}
	for _, pid := range pids {
		if inspector.Alive(pid) {
			alive = append(alive, pid)
		}
	}
	return alive
}

// failure shapes an error outcome for the control API.
func failure(st State, err error) Result {
	return Result{State: st, Error: err.Error()}
}

// newWorkerID returns a short unique worker identifier.
func newWorkerID() string {
	return "w-" + uuid.NewString()[:8]
}
