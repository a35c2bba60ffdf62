package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"traffic-router/internal/config"
	"traffic-router/internal/dispatch"
	"traffic-router/internal/routing"
)

// newResolveCmd creates the "resolve" subcommand: a dry run of rule matching
// and the traffic split for one request
func newResolveCmd() *cobra.Command {
	var (
		path    string
		headers []string
		draw    int
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <file>",
		Short: "Show which version a request would be routed to",
		Long: `Resolve applies the document's rules and traffic split to a request
described by --path and --header, without contacting any backend.

Examples:
    traffic-router resolve routing.yaml --path /beta/users
    traffic-router resolve routing.yaml -H version=v2
    traffic-router resolve routing.yaml --draw 85`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			header, err := parseHeaders(headers)
			if err != nil {
				return err
			}

			doc, err := config.LoadFile(args[0])
			if err != nil {
				return err
			}
			var source routing.DrawSource
			if draw >= 0 {
				if draw >= routing.DrawRange {
					return fmt.Errorf("--draw must be below %d", routing.DrawRange)
				}
				source = routing.DrawFunc(func() int { return draw })
			}
			compiled, err := config.Compile(doc, source)
			if err != nil {
				return err
			}

			res := dispatch.Resolve(&config.Snapshot{Compiled: compiled}, routing.Request{Path: path, Header: header})
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(res)
			}
			fmt.Fprintf(out, "version: %s\nkind: %s\n", res.Version, res.Kind)
			if res.Rule != "" {
				fmt.Fprintf(out, "rule: %s\n", res.Rule)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "/", "Request path")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Request header as name=value (repeatable)")
	cmd.Flags().IntVar(&draw, "draw", -1, "Fixed split draw in [0,100); random when negative")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the resolution as JSON")
	return cmd
}

func parseHeaders(pairs []string) (http.Header, error) {
	header := make(http.Header, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected name=value", pair)
		}
		header.Add(name, value)
	}
	return header, nil
}
