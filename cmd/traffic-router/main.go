// Command traffic-router routes HTTP traffic across backend versions.
//
// Usage:
//
//	traffic-router serve                          Run the proxy and admin listeners
//	traffic-router validate routing.yaml          Check a routing document
//	traffic-router resolve routing.yaml --path /p Show where a request would go
//	traffic-router version                        Show version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"traffic-router/internal/app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "traffic-router",
		Short: "Route HTTP traffic across backend versions",
		Long: `traffic-router is a reverse proxy that sends each request to a backend
version chosen by header and path rules or a weighted traffic split, balances
across the version's endpoints and ejects failing endpoints with a circuit
breaker.

Settings come from the environment (and .env); the routing document is YAML:

    traffic-router validate routing.yaml
    ROUTING_CONFIG_FILE=routing.yaml traffic-router serve`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newValidateCmd(),
		newResolveCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "traffic-router %s\n", app.Version)
		},
	}
}
