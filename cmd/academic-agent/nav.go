// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pdiddy/academic-agent/internal/config"
	"github.com/pdiddy/academic-agent/internal/navigation"
	"github.com/pdiddy/academic-agent/internal/orchestrator"
)

var navCmd = &cobra.Command{
	Use:   "nav",
	Short: "Inspect and drive the DBIS navigation session",
	Long: `Nav operates on a navigation session file. A session must start at the
DBIS portal; until then every other URL is rejected with exit status 1.

With --run the session of that run is used, otherwise --session.`,
}

var navCheckCmd = &cobra.Command{
	Use:   "check <url>",
	Short: "Check url against the browser domain policy",
	Long: `Check prints the domain policy decision for url as JSON and exits 1 when
the browser would refuse it. Shadow libraries are always refused; hosts
other than the DBIS portal and trusted proxies are allowed only inside a
session started at DBIS. The fetch.domains engine settings extend the
built-in lists.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTracker(cmd)
		if err != nil {
			return err
		}
		cfg, err := config.Engine(engine)
		if err != nil {
			return err
		}
		d := navigation.NewDomainPolicy(cfg.Fetch.Domains).Check(args[0], t.Active())
		if err := printJSON(cmd.OutOrStdout(), d); err != nil {
			return err
		}
		if !d.Allowed {
			return &exitError{code: exitFailure}
		}
		return nil
	},
}

var navTrackCmd = &cobra.Command{
	Use:   "track <url>",
	Short: "Record a navigation to url",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTracker(cmd)
		if err != nil {
			return err
		}
		res, err := t.Track(args[0])
		if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
			return perr
		}
		if err != nil {
			return &exitError{code: exitFailure}
		}
		return nil
	},
}

var navResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop the navigation session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTracker(cmd)
		if err != nil {
			return err
		}
		res, err := t.Reset()
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var navStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the navigation session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTracker(cmd)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), t.Status())
	},
}

func init() {
	navCmd.PersistentFlags().String("session", orchestrator.NavigationFile, "navigation session file")
	navCmd.PersistentFlags().String("run", "", "use the navigation session of this run")

	navCmd.AddCommand(navTrackCmd, navCheckCmd, navResetCmd, navStatusCmd)
	rootCmd.AddCommand(navCmd)
}

func openTracker(cmd *cobra.Command) (*navigation.Tracker, error) {
	path, _ := cmd.Flags().GetString("session")
	if runID, _ := cmd.Flags().GetString("run"); runID != "" {
		cfg, err := config.Engine(engine)
		if err != nil {
			return nil, err
		}
		path = filepath.Join(cfg.RunsDir, runID, orchestrator.NavigationFile)
	}
	return navigation.NewTracker(path)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
