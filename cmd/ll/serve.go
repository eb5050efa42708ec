package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/camdenward/leadline/internal/api"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps(cmd)
			if err != nil {
				return err
			}
			if port == 0 {
				port = d.cfg.Server.Port
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			d.pool.Start(ctx)
			defer d.pool.Wait()

			return api.Start(ctx, api.StartOpts{
				DB:         d.db,
				Port:       port,
				Router:     d.router,
				Dispatcher: d.dispatcher,
				Sequencer:  d.seq,
				Controller: d.controller,
				Out:        cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	return cmd
}

// signalContext is a helper for commands that run until interrupted.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
