package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"vivarium/pkg/audit"
	"vivarium/pkg/config"
	"vivarium/pkg/gate"
	"vivarium/pkg/sandbox"
	"vivarium/pkg/worker"

	"github.com/spf13/cobra"
)

// newWorkerCmd creates the "vivarium worker" subcommand.
// This wraps the pkg/worker library into a resident process that claims
// tasks from the workspace queue until signalled.
func newWorkerCmd() *cobra.Command {
	var workerID string
	var workspace string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a resident worker process",
		Long: `Starts a worker that claims tasks from the workspace queue, executes
them under sandbox confinement, and gates results before delivery.

This command is typically invoked by the pool supervisor, not by humans.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if workerID == "" {
				return fmt.Errorf("--id is required")
			}
			return runWorker(cmd.Context(), workerID, workspace)
		},
	}

	cmd.Flags().StringVar(&workerID, "id", "", "worker ID, e.g. w-1a2b3c4d (required)")
	cmd.Flags().StringVar(&workspace, "workspace", "", "workspace root (default: configured or current directory)")

	return cmd
}

// runWorker wires a sandbox, gate, and worker against the shared audit
// trail and runs the claim loop.
func runWorker(ctx context.Context, id, workspace string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	paths, err := ResolvePaths()
	if err != nil {
		return err
	}

	trail, err := audit.Open(paths.AuditPath)
	if err != nil {
		return err
	}
	defer trail.Close()

	if workspace == "" {
		cfg, cfgErr := config.Load(paths.ConfigPath)
		if cfgErr != nil {
			return cfgErr
		}
		workspace, err = workspaceRoot(cfg)
		if err != nil {
			return err
		}
	}

	policy, err := sandbox.LoadPolicy(workspace, paths.PolicyPath)
	if err != nil {
		return fmt.Errorf("load sandbox policy: %w", err)
	}

	sb, err := sandbox.New(policy, trail)
	if err != nil {
		return fmt.Errorf("create sandbox: %w", err)
	}

	w := worker.New(id, sb, gate.New(0, trail), trail)
	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("worker %s: %w", id, err)
	}
	return nil
}
