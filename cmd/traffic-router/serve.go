package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"traffic-router/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy and admin listeners",
		Long: `Serve starts the proxy listener on PORT and the admin API on ADMIN_PORT.
It runs until interrupted, then drains both listeners.

The routing document is read from ROUTING_CONFIG_FILE and/or the Redis key
REDIS_CONFIG_KEY and reloaded when either changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx)
		},
	}
}
