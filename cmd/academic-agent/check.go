// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/academic-agent/internal/config"
	"github.com/pdiddy/academic-agent/internal/threshold"
)

var checkThresholdCmd = &cobra.Command{
	Use:   "check-threshold <metric> <value>",
	Short: "Classify a health metric value against the threshold policy",
	Long: `Check-threshold classifies one metric value and exits 0 for ok, 1 for
warning and 2 for critical. Unknown metrics are reported as ok. A value
that is not a number exits 64.

Metrics: ` + strings.Join(threshold.Metrics(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: runCheckThreshold,
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config <research-config.md>",
	Short: "Validate a Markdown research config",
	Long: `Validate-config parses the research config and lists every problem,
missing fields first. It exits 0 when the config is valid and 1 otherwise.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidateConfig,
}

func init() {
	checkThresholdCmd.Flags().Bool("json", false, "print the result as JSON")

	rootCmd.AddCommand(checkThresholdCmd)
	rootCmd.AddCommand(validateConfigCmd)
}

func runCheckThreshold(cmd *cobra.Command, args []string) error {
	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return &exitError{code: exitUsage, err: fmt.Errorf("value %q is not a number", args[1])}
	}
	res := threshold.NewMonitor(logger).Check(args[0], value)

	w := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(w, res.Message())
		if res.Action != "" {
			fmt.Fprintf(w, "action: %s\n", res.Action)
		}
	}
	if code := res.Status.ExitCode(); code != exitOK {
		return &exitError{code: code}
	}
	return nil
}

func runValidateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	w := cmd.OutOrStdout()
	var verr *config.ValidationError
	switch {
	case errors.As(err, &verr):
		fmt.Fprintf(w, "%s is invalid:\n", args[0])
		for _, p := range verr.All() {
			fmt.Fprintf(w, "  - %s\n", p)
		}
		return &exitError{code: exitFailure}
	case err != nil:
		return &exitError{code: exitFailure, err: err}
	}

	fmt.Fprintf(w, "%s is valid\n", args[0])
	fmt.Fprintf(w, "  project:   %s\n", cfg.ProjectTitle)
	fmt.Fprintf(w, "  question:  %s\n", cfg.ResearchQuestion)
	fmt.Fprintf(w, "  clusters:  %s\n", strings.Join(cfg.ClusterTags(), ", "))
	fmt.Fprintf(w, "  databases: %s\n", strings.Join(cfg.PrimaryDatabases, ", "))
	fmt.Fprintf(w, "  target %d sources from %d on, min score %d\n", cfg.TargetTotal, cfg.MinYear, cfg.MinScore)
	return nil
}
