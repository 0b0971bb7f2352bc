package pool_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"syscall"
	"testing"

	"vivarium/pkg/pool"
)

// TestStart_SpawnsUpToTarget verifies Start brings an empty pool to the
// requested count, records PIDs, stamps startedAt, and persists.
func TestStart_SpawnsUpToTarget(t *testing.T) {
	host := newFakeHost()
	statePath := filepath.Join(t.TempDir(), "worker_pool.json")
	sup, _ := newSupervisor(t, host, pool.Options{StatePath: statePath})

	res, err := sup.Start(context.Background(), 3)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if !res.Success {
		t.Fatal("expected success")
	}
	if len(res.PIDs) != 3 {
		t.Fatalf("expected 3 managed PIDs, got %d", len(res.PIDs))
	}
	if res.RunningCount != 3 || !res.Running {
		t.Fatalf("expected running count 3, got %d (running=%v)", res.RunningCount, res.Running)
	}
	if res.TargetCount != 3 {
		t.Fatalf("expected target 3, got %d", res.TargetCount)
	}
	if res.StartedAt == nil {
		t.Fatal("expected startedAt to be set")
	}
	if res.RunningSource != pool.SourceManaged {
		t.Fatalf("expected managed source, got %q", res.RunningSource)
	}

	// The snapshot survives a supervisor restart.
	st, err := pool.LoadState(statePath)
	if err != nil {
		t.Fatalf("LoadState returned error: %v", err)
	}
	if len(st.PIDs) != 3 {
		t.Fatalf("expected persisted PIDs, got %v", st.PIDs)
	}
}

// TestStart_IdempotentAtTarget verifies a second start at the same target
// spawns nothing and returns the same PID set.
func TestStart_IdempotentAtTarget(t *testing.T) {
	host := newFakeHost()
	sup, _ := newSupervisor(t, host, pool.Options{})

	first, err := sup.Start(context.Background(), 2)
	if err != nil {
		t.Fatalf("first Start returned error: %v", err)
	}

	second, err := sup.Start(context.Background(), 2)
	if err != nil {
		t.Fatalf("second Start returned error: %v", err)
	}
	if !second.Success {
		t.Fatal("expected no-op start to succeed")
	}
	if host.spawned != 2 {
		t.Fatalf("expected 2 total spawns, got %d", host.spawned)
	}
	if fmt.Sprint(first.PIDs) != fmt.Sprint(second.PIDs) {
		t.Fatalf("PID set changed across idempotent starts: %v vs %v", first.PIDs, second.PIDs)
	}
}

// TestStart_DefaultTargetWhenUnspecified verifies requested <= 0 falls back
// to the configured default.
func TestStart_DefaultTargetWhenUnspecified(t *testing.T) {
	host := newFakeHost()
	sup, _ := newSupervisor(t, host, pool.Options{DefaultTarget: 2})

	res, err := sup.Start(context.Background(), 0)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if len(res.PIDs) != 2 || res.TargetCount != 2 {
		t.Fatalf("expected default target 2, got pids=%v target=%d", res.PIDs, res.TargetCount)
	}
}

// TestStart_PartialSpawnFailureIsRecorded verifies that a spawn failure
// mid-way reports the error while keeping the workers that did start.
func TestStart_PartialSpawnFailureIsRecorded(t *testing.T) {
	host := newFakeHost()
	host.spawnErr = errors.New("fork: resource temporarily unavailable")
	host.spawnAfter = 1 // first spawn succeeds, second fails
	statePath := filepath.Join(t.TempDir(), "worker_pool.json")
	sup, _ := newSupervisor(t, host, pool.Options{StatePath: statePath})

	res, err := sup.Start(context.Background(), 3)
	if err == nil {
		t.Fatal("expected spawn error")
	}
	var spawnErr *pool.SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected SpawnError, got %T: %v", err, err)
	}
	if res.Success {
		t.Fatal("expected failure result")
	}
	if len(res.PIDs) != 1 {
		t.Fatalf("expected the surviving worker to be recorded, got %v", res.PIDs)
	}

	// Partial progress is persisted, not rolled back.
	st, err := pool.LoadState(statePath)
	if err != nil {
		t.Fatalf("LoadState returned error: %v", err)
	}
	if len(st.PIDs) != 1 {
		t.Fatalf("expected 1 persisted PID, got %v", st.PIDs)
	}
}

// TestStatus_ReconcilesExternallyKilledWorker runs the spec scenario:
// start 2, kill one externally, status reports 1 running / managed /
// target unchanged.
func TestStatus_ReconcilesExternallyKilledWorker(t *testing.T) {
	host := newFakeHost()
	sup, _ := newSupervisor(t, host, pool.Options{})

	res, err := sup.Start(context.Background(), 2)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	host.kill(res.PIDs[0])

	st, err := sup.Status(context.Background())
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if st.RunningCount != 1 {
		t.Fatalf("expected running count 1, got %d", st.RunningCount)
	}
	if st.RunningSource != pool.SourceManaged {
		t.Fatalf("expected managed source, got %q", st.RunningSource)
	}
	if st.TargetCount != 2 {
		t.Fatalf("expected target unchanged at 2, got %d", st.TargetCount)
	}
}

// TestStatus_ClassifiesUnmanagedAndMixed verifies source classification
// against foreign processes matching the worker signature.
func TestStatus_ClassifiesUnmanagedAndMixed(t *testing.T) {
	host := newFakeHost()
	sup, _ := newSupervisor(t, host, pool.Options{})

	host.addForeign(61001)
	st, err := sup.Status(context.Background())
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if st.RunningSource != pool.SourceUnmanaged {
		t.Fatalf("expected unmanaged source, got %q", st.RunningSource)
	}
	if len(st.UnmanagedPIDs) != 1 || st.UnmanagedPIDs[0] != 61001 {
		t.Fatalf("expected unmanaged PID 61001, got %v", st.UnmanagedPIDs)
	}

	if _, err := sup.Start(context.Background(), 2); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	st, err = sup.Status(context.Background())
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if st.RunningSource != pool.SourceMixed {
		t.Fatalf("expected mixed source, got %q", st.RunningSource)
	}
}

// TestStop_EmptyPoolIsNoOpSuccess verifies stop on an empty pool returns
// success with empty PID lists, not an error.
func TestStop_EmptyPoolIsNoOpSuccess(t *testing.T) {
	host := newFakeHost()
	sup, _ := newSupervisor(t, host, pool.Options{})

	res, err := sup.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if !res.Success {
		t.Fatal("expected success")
	}
	if res.Running {
		t.Fatal("expected running=false")
	}
	if len(res.PIDs) != 0 || len(res.UnmanagedPIDs) != 0 {
		t.Fatalf("expected empty PID lists, got %v / %v", res.PIDs, res.UnmanagedPIDs)
	}
}

// TestStop_GracefulTermination verifies cooperative workers exit on
// SIGTERM without escalation.
func TestStop_GracefulTermination(t *testing.T) {
	host := newFakeHost()
	sup, _ := newSupervisor(t, host, pool.Options{GracePeriod: 0})

	res, err := sup.Start(context.Background(), 2)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	pids := res.PIDs

	stopRes, err := sup.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if !stopRes.Success || stopRes.Running {
		t.Fatalf("expected stopped pool, got %+v", stopRes)
	}
	for _, pid := range pids {
		sigs := host.sentSignals(pid)
		if len(sigs) != 1 || sigs[0] != syscall.SIGTERM {
			t.Fatalf("PID %d: expected single SIGTERM, got %v", pid, sigs)
		}
	}
	if stopRes.StartedAt != nil {
		t.Fatal("expected startedAt cleared after full stop")
	}
}

// TestStop_EscalatesToSIGKILL verifies a zero grace period escalates
// stubborn workers straight to SIGKILL.
func TestStop_EscalatesToSIGKILL(t *testing.T) {
	host := newFakeHost()
	host.ignoreTerm = true
	sup, _ := newSupervisor(t, host, pool.Options{GracePeriod: 0})

	res, err := sup.Start(context.Background(), 1)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	pid := res.PIDs[0]

	stopRes, err := sup.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if !stopRes.Success || stopRes.Running {
		t.Fatalf("expected stopped pool, got %+v", stopRes)
	}
	sigs := host.sentSignals(pid)
	if len(sigs) != 2 || sigs[0] != syscall.SIGTERM || sigs[1] != syscall.SIGKILL {
		t.Fatalf("expected SIGTERM then SIGKILL, got %v", sigs)
	}
}

// TestStop_ReportsUnkillableSurvivors verifies an unkillable process is
// reported in the result, still with overall success.
func TestStop_ReportsUnkillableSurvivors(t *testing.T) {
	host := newFakeHost()
	host.ignoreTerm = true
	host.ignoreKill = true
	sup, _ := newSupervisor(t, host, pool.Options{GracePeriod: 0})

	res, err := sup.Start(context.Background(), 1)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	stopRes, err := sup.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if !stopRes.Success {
		t.Fatal("stop is best-effort: expected success even with survivors")
	}
	if len(stopRes.UnkillablePIDs) != 1 || stopRes.UnkillablePIDs[0] != res.PIDs[0] {
		t.Fatalf("expected unkillable PID %d reported, got %v", res.PIDs[0], stopRes.UnkillablePIDs)
	}
	if !stopRes.Running {
		t.Fatal("expected pool still running: the survivor is alive")
	}
}

// TestStop_SkipsUnmanagedWhenConfigured verifies the stop-unmanaged policy
// flag.
func TestStop_SkipsUnmanagedWhenConfigured(t *testing.T) {
	host := newFakeHost()
	sup, _ := newSupervisor(t, host, pool.Options{StopUnmanaged: false})

	host.addForeign(61002)
	stopRes, err := sup.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if len(host.sentSignals(61002)) != 0 {
		t.Fatal("expected no signal to unmanaged PID when StopUnmanaged=false")
	}
	if !stopRes.Running || stopRes.RunningSource != pool.SourceUnmanaged {
		t.Fatalf("expected unmanaged worker untouched, got %+v", stopRes.State)
	}
}

// TestStop_IncludesUnmanagedByDefaultPolicy verifies unmanaged PIDs are
// terminated when the flag is set.
func TestStop_IncludesUnmanagedByDefaultPolicy(t *testing.T) {
	host := newFakeHost()
	sup, _ := newSupervisor(t, host, pool.Options{StopUnmanaged: true})

	host.addForeign(61003)
	stopRes, err := sup.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if stopRes.Running {
		t.Fatal("expected whole pool stopped")
	}
	sigs := host.sentSignals(61003)
	if len(sigs) == 0 || sigs[0] != syscall.SIGTERM {
		t.Fatalf("expected SIGTERM to unmanaged PID, got %v", sigs)
	}
}

// TestLifecycle_AuditRecords verifies start and stop write their lifecycle
// events to the trail.
func TestLifecycle_AuditRecords(t *testing.T) {
	host := newFakeHost()
	sup, trail := newSupervisor(t, host, pool.Options{})

	if _, err := sup.Start(context.Background(), 2); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if _, err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	started, stopped := 0, 0
	for _, e := range trail.Entries() {
		switch e.Event {
		case "worker_started":
			started++
		case "pool_stopped":
			stopped++
		}
	}
	if started != 2 {
		t.Fatalf("expected 2 worker_started events, got %d", started)
	}
	if stopped != 1 {
		t.Fatalf("expected 1 pool_stopped event, got %d", stopped)
	}
}

// TestState_SurvivesSupervisorRestart verifies a second supervisor over the
// same state file still attributes the live workers as managed.
func TestState_SurvivesSupervisorRestart(t *testing.T) {
	host := newFakeHost()
	statePath := filepath.Join(t.TempDir(), "worker_pool.json")
	sup1, _ := newSupervisor(t, host, pool.Options{StatePath: statePath})

	if _, err := sup1.Start(context.Background(), 2); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	sup2, _ := newSupervisor(t, host, pool.Options{StatePath: statePath})
	st, err := sup2.Status(context.Background())
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if st.RunningCount != 2 || st.RunningSource != pool.SourceManaged {
		t.Fatalf("expected 2 managed workers after restart, got %+v", st)
	}
}
