package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"vivarium/pkg/control"

	"github.com/spf13/cobra"
)

// newServeCmd creates the "vivarium serve" subcommand.
func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control panel HTTP API",
		Long:  "Serves the worker pool and gate health endpoints until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			srv := control.NewServer(rt.supervisor, rt.trail, rt.settings)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe(addr) }()

			fmt.Fprintf(cmd.OutOrStdout(), "control panel listening on %s\n", addr)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown control server: %w", err)
			}
			return <-errCh
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7870", "listen address for the control panel")

	return cmd
}
