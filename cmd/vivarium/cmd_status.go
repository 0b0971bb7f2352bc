package main

import (
	"fmt"
	"io"
	"os"

	"vivarium/pkg/audit"
	"vivarium/pkg/pool"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// newStatusCmd creates the "vivarium status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pool and gate health",
		Long:  "Reconciles the recorded pool state against the host process table,\nthen prints worker status and aggregate gate health.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			st, err := rt.supervisor.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("pool status: %w", err)
			}

			snap, err := rt.trail.GateMetrics(50)
			if err != nil {
				return fmt.Errorf("gate metrics: %w", err)
			}

			printStatus(cmd.OutOrStdout(), st, snap)
			return nil
		},
	}
}

// printStatus renders the pool state and gate health report. Headers are
// styled only when stdout is a terminal.
func printStatus(out io.Writer, st pool.State, snap audit.Snapshot) {
	header := func(s string) string { return s }
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		style := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
		header = func(s string) string { return style.Render(s) }
	}

	fmt.Fprintln(out, header("Worker Pool"))
	if st.Running {
		fmt.Fprintf(out, "  running: %d/%d workers (%s)\n", st.RunningCount, st.TargetCount, st.RunningSource)
		if st.StartedAt != nil {
			fmt.Fprintf(out, "  since:   %s\n", st.StartedAt.Format("2006-01-02 15:04:05"))
		}
		for _, pid := range st.PIDs {
			fmt.Fprintf(out, "  worker pid %d\n", pid)
		}
		for _, pid := range st.UnmanagedPIDs {
			fmt.Fprintf(out, "  unmanaged pid %d\n", pid)
		}
	} else {
		fmt.Fprintf(out, "  not running (target %d)\n", st.TargetCount)
	}

	fmt.Fprintln(out, header("Gate Health"))
	if snap.Total == 0 {
		fmt.Fprintln(out, "  no gate events")
		return
	}
	fmt.Fprintf(out, "  pass rate:      %.1f%% (%d/%d)\n", snap.PassRatePct, snap.PassCount, snap.Total)
	fmt.Fprintf(out, "  escalations:    %d (%.1f%%)\n", snap.EscalateCount, snap.EscalateRatePct)
	fmt.Fprintf(out, "  avg confidence: %.2f\n", snap.AvgConfidence)
}
