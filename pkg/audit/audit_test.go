package audit_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"vivarium/pkg/audit"
)

func openTrail(t *testing.T) *audit.Trail {
	t.Helper()
	trail, err := audit.Open(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = trail.Close() })
	return trail
}

// TestTrail_Log_AppendsOneEntryPerCall verifies that every Log call grows
// the trail by exactly one entry.
func TestTrail_Log_AppendsOneEntryPerCall(t *testing.T) {
	trail := openTrail(t)

	const k = 7
	for i := 0; i < k; i++ {
		trail.Log("worker_started", audit.Fields{"pid": 1000 + i})
	}

	if got := trail.Len(); got != k {
		t.Fatalf("expected %d entries after %d calls, got %d", k, k, got)
	}

	entries, err := audit.ReadAll(trail.Path())
	if err != nil {
		t.Fatalf("ReadAll returned error: %v", err)
	}
	if len(entries) != k {
		t.Fatalf("expected %d persisted entries, got %d", k, len(entries))
	}
}

// TestTrail_Entries_PreservesInsertionOrder verifies insertion ordering of
// the in-process view.
func TestTrail_Entries_PreservesInsertionOrder(t *testing.T) {
	trail := openTrail(t)

	events := []string{"worker_started", "sandbox_check", "pool_stopped"}
	for _, ev := range events {
		trail.Log(ev, nil)
	}

	entries := trail.Entries()
	if len(entries) != len(events) {
		t.Fatalf("expected %d entries, got %d", len(events), len(entries))
	}
	for i, ev := range events {
		if entries[i].Event != ev {
			t.Fatalf("entry %d: expected event %q, got %q", i, ev, entries[i].Event)
		}
	}
}

// TestTrail_LogCritical_FailsAfterClose verifies that lifecycle-critical
// writes propagate failures instead of swallowing them.
func TestTrail_LogCritical_FailsAfterClose(t *testing.T) {
	trail := openTrail(t)

	if err := trail.LogCritical("worker_started", audit.Fields{"pid": 42}); err != nil {
		t.Fatalf("LogCritical on open trail returned error: %v", err)
	}
	if err := trail.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := trail.LogCritical("pool_stopped", nil); err == nil {
		t.Fatal("expected LogCritical to fail on a closed trail")
	}
}

// TestTrail_Close_Idempotent verifies Close can be called repeatedly.
func TestTrail_Close_Idempotent(t *testing.T) {
	trail := openTrail(t)
	if err := trail.Close(); err != nil {
		t.Fatalf("first Close returned error: %v", err)
	}
	if err := trail.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
}

// TestReadAll_SkipsTruncatedFinalLine simulates a crash mid-write: the last
// line is incomplete JSON and must be ignored, not treated as corruption.
func TestReadAll_SkipsTruncatedFinalLine(t *testing.T) {
	trail := openTrail(t)
	trail.Log("gate_compress", audit.Fields{"confidence": 85})
	trail.Log("gate_compress", audit.Fields{"confidence": 90})
	if err := trail.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	f, err := os.OpenFile(trail.Path(), os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatalf("reopen trail: %v", err)
	}
	if _, err := f.WriteString(`{"ts":"2026-01-01T00:00:00Z","event":"gate_co`); err != nil {
		t.Fatalf("write partial line: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, err := audit.ReadAll(trail.Path())
	if err != nil {
		t.Fatalf("ReadAll returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 complete entries, got %d", len(entries))
	}
}

// TestReadAll_MissingFileIsEmpty verifies a missing trail reads as empty.
func TestReadAll_MissingFileIsEmpty(t *testing.T) {
	entries, err := audit.ReadAll(filepath.Join(t.TempDir(), "nope.jsonl"))
	if err != nil {
		t.Fatalf("ReadAll returned error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

// TestTrail_Log_ConcurrentWritersNeverInterleave hammers the trail from
// multiple goroutines and verifies every line parses cleanly.
func TestTrail_Log_ConcurrentWritersNeverInterleave(t *testing.T) {
	trail := openTrail(t)

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				trail.Log("sandbox_check", audit.Fields{"writer": w, "seq": i})
			}
		}(w)
	}
	wg.Wait()

	entries, err := audit.ReadAll(trail.Path())
	if err != nil {
		t.Fatalf("ReadAll returned error: %v", err)
	}
	if len(entries) != writers*perWriter {
		t.Fatalf("expected %d entries, got %d", writers*perWriter, len(entries))
	}
}
