package main

import (
	"fmt"

	"vivarium/internal/appversion"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root vivarium command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vivarium",
		Short:         "Vivarium worker pool control plane",
		Long:          "vivarium supervises a pool of resident workers.\nIt reconciles the pool against the host process table, confines worker\nfile access to the workspace, and records every decision in an audit trail.",
		Version:       fmt.Sprintf("vivarium %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newStartCmd(),
		newStopCmd(),
		newStatusCmd(),
		newServeCmd(),
		newWorkerCmd(),
		newDashCmd(),
	)

	return cmd
}
