package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStartCmd creates the "vivarium start" subcommand.
func newStartCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the worker pool",
		Long:  "Reconciles the pool against the host process table and spawns workers\nuntil the running count reaches the target.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count < 0 {
				return fmt.Errorf("--count must not be negative, got %d", count)
			}

			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			if count > 0 {
				if err := rt.settings.SetResidentCount(count); err != nil {
					return err
				}
			}

			res, err := rt.supervisor.Start(cmd.Context(), count)
			if err != nil {
				return fmt.Errorf("start pool: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pool running: %d/%d workers (%s)\n",
				res.RunningCount, res.TargetCount, res.RunningSource)
			for _, pid := range res.PIDs {
				fmt.Fprintf(out, "  worker pid %d\n", pid)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "target worker count (0 = persisted or configured default)")

	return cmd
}
