// Package worker implements the resident worker: a long-lived process that
// continuously claims tasks from the workspace queue and executes them
// until stopped. Every filesystem touch is authorized by the sandbox before
// the OS call, and every outcome lands in the audit trail.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"vivarium/pkg/audit"
	"vivarium/pkg/gate"
	"vivarium/pkg/sandbox"
)

// DefaultPollInterval controls how often an idle worker re-checks the
// pending queue.
const DefaultPollInterval = 2 * time.Second

// Task is one unit of queued work. Task content semantics live with the
// orchestrating agent; the worker only cares about where the result goes.
type Task struct {
	ID         string `json:"id"`
	OutputPath string `json:"output_path"` // relative to the workspace root
	Payload    string `json:"payload"`
}

// RunFunc produces the result content for a task. The default runner
// renders a completion report around the payload; tests inject their own.
type RunFunc func(Task) (string, error)

// Worker claims and executes queue tasks.
type Worker struct {
	ID string

	sb           *sandbox.Sandbox
	gate         *gate.Gate
	trail        *audit.Trail
	queueDir     string
	pollInterval time.Duration
	run          RunFunc
}

// New creates a Worker bound to the sandbox's workspace. The queue lives at
// <workspace>/queue with pending/, claimed/, done/, and failed/ subtrees.
func New(id string, sb *sandbox.Sandbox, g *gate.Gate, trail *audit.Trail) *Worker {
	return &Worker{
		ID:           id,
		sb:           sb,
		gate:         g,
		trail:        trail,
		queueDir:     filepath.Join(sb.Root(), "queue"),
		pollInterval: DefaultPollInterval,
		run:          defaultRun,
	}
}

// SetPollInterval overrides the idle poll interval (for testing).
func (w *Worker) SetPollInterval(d time.Duration) { w.pollInterval = d }

// SetRunFunc replaces the task runner (for testing).
func (w *Worker) SetRunFunc(fn RunFunc) { w.run = fn }

// Run is the resident loop: claim and execute tasks until the context is
// cancelled. Idle periods sleep for the poll interval.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.ensureQueueDirs(); err != nil {
		return err
	}
	w.trail.Log("worker_loop_started", audit.Fields{"worker_id": w.ID})

	for {
		claimed, err := w.RunOnce(ctx)
		if err != nil {
			return err
		}
		if claimed {
			continue // drain the queue before sleeping
		}

		select {
		case <-ctx.Done():
			w.trail.Log("worker_loop_stopped", audit.Fields{"worker_id": w.ID})
			return nil
		case <-time.After(w.pollInterval):
		}
	}
}

// RunOnce claims at most one pending task and executes it. It reports
// whether a task was claimed. An empty queue is a normal idle answer.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, nil //nolint:nilerr // cancellation is a clean stop, not a failure
	}
	if err := w.ensureQueueDirs(); err != nil {
		return false, err
	}

	taskPath, ok := w.claim()
	if !ok {
		return false, nil
	}
	w.execute(taskPath)
	return true, nil
}

// claim renames the oldest pending task into claimed/. Rename is atomic,
// so when several workers race for the same task exactly one wins; losers
// move on to the next candidate.
func (w *Worker) claim() (string, bool) {
	pending := filepath.Join(w.queueDir, "pending")
	entries, err := os.ReadDir(pending)
	if err != nil {
		return "", false
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		src := filepath.Join(pending, name)
		dst := filepath.Join(w.queueDir, "claimed", name)
		if err := os.Rename(src, dst); err == nil {
			return dst, true
		}
	}
	return "", false
}

// execute runs one claimed task end to end: parse, authorize, run, gate,
// deliver. Failures are filed under failed/ with an audit record; they
// never take the worker loop down.
func (w *Worker) execute(taskPath string) {
	if !w.sb.IsPathAllowed(taskPath) {
		w.fail(taskPath, Task{}, "task file denied by sandbox")
		return
	}

	data, err := os.ReadFile(taskPath) //nolint:gosec // path authorized above
	if err != nil {
		w.fail(taskPath, Task{}, fmt.Sprintf("read task: %v", err))
		return
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		w.fail(taskPath, task, fmt.Sprintf("malformed task: %v", err))
		return
	}
	if task.ID == "" || task.OutputPath == "" {
		w.fail(taskPath, task, "task missing id or output_path")
		return
	}

	outputPath := filepath.Join(w.sb.Root(), task.OutputPath)
	// The denial must prevent the OS call entirely.
	if !w.sb.ValidateWrite(outputPath) {
		w.fail(taskPath, task, "write denied by sandbox")
		return
	}

	result, err := w.run(task)
	if err != nil {
		w.fail(taskPath, task, fmt.Sprintf("run task: %v", err))
		return
	}

	decision := w.gate.Evaluate(task.ID, result)
	if !decision.Pass {
		w.fail(taskPath, task, "gate rejected result: "+decision.Reason)
		return
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o700); err != nil {
		w.fail(taskPath, task, fmt.Sprintf("create output dir: %v", err))
		return
	}
	if err := os.WriteFile(outputPath, []byte(result), 0o600); err != nil {
		w.fail(taskPath, task, fmt.Sprintf("write result: %v", err))
		return
	}

	done := filepath.Join(w.queueDir, "done", filepath.Base(taskPath))
	_ = os.Rename(taskPath, done)

	w.trail.Log("task_completed", audit.Fields{
		"task_id":     task.ID,
		"worker_id":   w.ID,
		"output_path": task.OutputPath,
		"confidence":  int(decision.Confidence * 100),
	})
}

// fail files the task under failed/ and records why.
func (w *Worker) fail(taskPath string, task Task, reason string) {
	failed := filepath.Join(w.queueDir, "failed", filepath.Base(taskPath))
	_ = os.Rename(taskPath, failed)

	w.trail.Log("task_failed", audit.Fields{
		"task_id":   task.ID,
		"worker_id": w.ID,
		"reason":    reason,
	})
}

func (w *Worker) ensureQueueDirs() error {
	for _, sub := range []string{"pending", "claimed", "done", "failed"} {
		if err := os.MkdirAll(filepath.Join(w.queueDir, sub), 0o700); err != nil {
			return fmt.Errorf("create queue dir %s: %w", sub, err)
		}
	}
	return nil
}

// defaultRun renders a completion report around the payload.
func defaultRun(task Task) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "task: %s\ncompleted: %s\n\n", task.ID, time.Now().UTC().Format(time.RFC3339))
	b.WriteString(task.Payload)
	b.WriteString("\n")
	return b.String(), nil
}
