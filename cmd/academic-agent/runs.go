// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/academic-agent/internal/config"
	"github.com/pdiddy/academic-agent/internal/state"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List runs from the run catalogue",
	Long: `Runs lists the runs recorded in runs/index.db, newest first, with their
last completed phase, status and counts.`,
	Args: cobra.NoArgs,
	RunE: runRuns,
}

var quotesCmd = &cobra.Command{
	Use:   "quotes <query>",
	Short: "Search the quotes extracted by past runs",
	Long: `Quotes searches the quote index of the run catalogue. When the binary is
built with the sqlite_fts5 tag the query uses FTS5 syntax and hits are ranked
by relevance; otherwise it is matched as a substring.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuotes,
}

func init() {
	runsCmd.Flags().String("status", "", "only list runs in this status (running, completed, failed, halted, cancelled)")
	runsCmd.Flags().Int("limit", 20, "maximum runs to list; 0 lists all")
	runsCmd.Flags().Bool("json", false, "output runs as JSON")

	quotesCmd.Flags().String("run", "", "restrict hits to one run")
	quotesCmd.Flags().Int("limit", 20, "maximum hits")
	quotesCmd.Flags().Bool("json", false, "output hits as JSON")

	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(quotesCmd)
}

func openCatalogue() (*state.Store, error) {
	cfg, err := config.Engine(engine)
	if err != nil {
		return nil, err
	}
	return state.Open(cfg.RunsDir)
}

func runRuns(cmd *cobra.Command, args []string) error {
	cat, err := openCatalogue()
	if err != nil {
		return err
	}
	defer cat.Close()

	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := cat.List(cmd.Context(), state.ListOptions{Status: status, Limit: limit})
	if err != nil {
		return err
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(cmd.OutOrStdout(), runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATUS\tPHASE\tSOURCES\tPDFS\tQUOTES\tSTARTED\tQUESTION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.Status, r.PhaseName, r.Sources, r.PDFs, r.Quotes,
			r.StartedAt.Local().Format(time.DateTime), truncate(r.Question, 60))
	}
	return tw.Flush()
}

func runQuotes(cmd *cobra.Command, args []string) error {
	cat, err := openCatalogue()
	if err != nil {
		return err
	}
	defer cat.Close()

	runID, _ := cmd.Flags().GetString("run")
	limit, _ := cmd.Flags().GetInt("limit")
	hits, err := cat.SearchQuotes(cmd.Context(), state.SearchOptions{
		Query: strings.Join(args, " "),
		RunID: runID,
		Limit: limit,
	})
	if err != nil {
		return err
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(cmd.OutOrStdout(), hits)
	}
	if len(hits) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No quotes found.")
		return nil
	}
	w := cmd.OutOrStdout()
	for _, h := range hits {
		fmt.Fprintf(w, "[%s %s %s] %q", h.RunID, h.ID, h.SourceKey, h.Text)
		if h.Page != "" {
			fmt.Fprintf(w, " (p. %s)", h.Page)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
