package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStopCmd creates the "vivarium stop" subcommand.
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the worker pool",
		Long:  "Sends SIGTERM to every pool worker, waits out the grace period,\nand escalates survivors to SIGKILL.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.supervisor.Stop(cmd.Context())
			if err != nil {
				return fmt.Errorf("stop pool: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(res.UnkillablePIDs) > 0 {
				fmt.Fprintf(out, "pool stopped; %d process(es) survived SIGKILL: %v\n",
					len(res.UnkillablePIDs), res.UnkillablePIDs)
				return nil
			}
			fmt.Fprintln(out, "pool stopped")
			return nil
		},
	}
}
