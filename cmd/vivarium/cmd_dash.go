package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// newDashCmd creates the "vivarium dash" subcommand.
func newDashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dash",
		Short: "Launch interactive dashboard",
		Long:  "Opens the vivarium dashboard TUI for monitoring the worker pool and gate health.",
		RunE: func(cmd *cobra.Command, args []string) error {
			dashCmd := exec.CommandContext(cmd.Context(), "vivarium-dash")
			dashCmd.Stdin = os.Stdin
			dashCmd.Stdout = os.Stdout
			dashCmd.Stderr = os.Stderr

			if err := dashCmd.Run(); err != nil {
				return fmt.Errorf("run vivarium-dash: %w", err)
			}

			return nil
		},
	}
}
