package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"traffic-router/internal/config"
)

type validateResult struct {
	Success   bool           `json:"success"`
	File      string         `json:"file"`
	Rules     int            `json:"rules,omitempty"`
	Versions  int            `json:"versions,omitempty"`
	Endpoints map[string]int `json:"endpoints,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// newValidateCmd creates the "validate" subcommand for checking a routing document
func newValidateCmd() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a routing document",
		Long: `Validate parses and compiles a routing document exactly as a reload would.

Examples:
    traffic-router validate routing.yaml
    traffic-router validate routing.yaml --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], outputFormat)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text or json")
	return cmd
}

func runValidate(cmd *cobra.Command, path, format string) error {
	result := validateResult{File: path}

	doc, err := config.LoadFile(path)
	if err == nil {
		var compiled *config.Compiled
		if compiled, err = config.Compile(doc, nil); err == nil {
			result.Success = true
			result.Rules = len(doc.Rules)
			result.Versions = len(compiled.Versions)
			result.Endpoints = make(map[string]int, len(compiled.Versions))
			for name, v := range compiled.Versions {
				result.Endpoints[name] = len(v.Endpoints)
			}
		}
	}
	if err != nil {
		result.Error = err.Error()
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		data, merr := json.MarshalIndent(result, "", "  ")
		if merr != nil {
			return merr
		}
		fmt.Fprintln(out, string(data))
	case "text":
		if result.Success {
			fmt.Fprintf(out, "Validation passed: %d rules, %d versions\n", result.Rules, result.Versions)
			names := make([]string, 0, len(result.Endpoints))
			for name := range result.Endpoints {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "  %s: %d endpoints\n", name, result.Endpoints[name])
			}
		} else {
			fmt.Fprintf(out, "Validation FAILED: %s\n", result.Error)
		}
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	if err != nil {
		return fmt.Errorf("validation failed")
	}
	return nil
}
