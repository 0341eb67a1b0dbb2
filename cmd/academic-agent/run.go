// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/academic-agent/internal/agent"
	"github.com/pdiddy/academic-agent/internal/config"
	"github.com/pdiddy/academic-agent/internal/metrics"
	"github.com/pdiddy/academic-agent/internal/orchestrator"
	"github.com/pdiddy/academic-agent/internal/secrets"
	"github.com/pdiddy/academic-agent/internal/state"
	"github.com/pdiddy/academic-agent/internal/threshold"
	"github.com/pdiddy/academic-agent/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run <research-config.md>",
	Short: "Run the research pipeline for a research config",
	Long: `Run validates the Markdown research config and drives a new run through
all phases: context, query-gen, search, dedup+rank, pdf-fetch,
quote-extraction and reporting. Artifacts are written to runs/<run_id>/.

Exit status is 0 when the run completes, 1 on a failure and 2 when a
critical health metric halts the run.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <run_id>",
	Short: "Continue a run from its last checkpoint",
	Long: `Resume loads runs/<run_id>/checkpoint.json and continues with the phase
after the checkpointed one. The research config is taken from the
checkpoint; a hand-edited queries.yaml is used by the search phase.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	for _, c := range []*cobra.Command{runCmd, resumeCmd} {
		c.Flags().String("metrics-addr", "", "serve the run metrics on this address, e.g. :9464")
		c.Flags().Bool("json", false, "print the run summary as JSON")
		c.Flags().Bool("browser", false, "enable the DBIS browser for search and PDF fetch")
		rootCmd.AddCommand(c)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	path := args[0]
	research, err := config.Load(path)
	if err != nil {
		return err
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	o, cleanup, err := newOrchestrator(cmd, research, string(text))
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := o.Run(cmd.Context())
	return printRun(cmd, res, err)
}

func runResume(cmd *cobra.Command, args []string) error {
	o, cleanup, err := newOrchestrator(cmd, types.ResearchConfig{}, "")
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := o.Resume(cmd.Context(), args[0])
	return printRun(cmd, res, err)
}

// newOrchestrator wires the orchestrator to the engine settings, the
// credentials, the model client and the run catalogue.
func newOrchestrator(cmd *cobra.Command, research types.ResearchConfig, text string) (*orchestrator.Orchestrator, func(), error) {
	cfg, err := config.Engine(engine)
	if err != nil {
		return nil, nil, err
	}
	if on, _ := cmd.Flags().GetBool("browser"); on {
		cfg.Fetch.EnableBrowser = true
	}
	creds, err := loadCredentials(cmd)
	if err != nil {
		return nil, nil, err
	}

	deps := orchestrator.Deps{Creds: creds}
	if models, err := agent.NewClaudeClient(creds.AnthropicAPIKey, agent.WithMaxTokens(cfg.Agent.MaxTokens)); err != nil {
		logger.Warn("no model client; queries fall back to keywords and quote extraction will fail", zap.Error(err))
	} else {
		deps.Models = models
	}

	cat, err := state.Open(cfg.RunsDir)
	if err != nil {
		return nil, nil, err
	}
	cleanups := []func(){func() { cat.Close() }}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	opts := orchestrator.Options{
		Research:   research,
		ConfigText: text,
		Engine:     cfg,
		Stages:     orchestrator.Default(deps),
		Catalogue:  cat,
		Log:        logger,
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		var current atomic.Pointer[metrics.Metrics]
		opts.OnMetrics = current.Store
		stop := serveMetrics(addr, &current)
		cleanups = append(cleanups, stop)
	}

	o, err := orchestrator.New(opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return o, cleanup, nil
}

func loadCredentials(cmd *cobra.Command) (types.Credentials, error) {
	flags := cmd.Root().PersistentFlags()
	dotenv, _ := flags.GetString("env-file")
	dir, _ := flags.GetString("secrets-dir")
	creds, fromFiles, err := secrets.LoadCredentials(dotenv, dir, logger)
	if err != nil {
		return creds, err
	}
	if len(fromFiles) > 0 {
		logger.Info("loaded secrets", zap.Strings("keys", fromFiles))
	}
	return creds, nil
}

// serveMetrics serves the metrics of the current execution on addr until
// the returned stop function is called.
func serveMetrics(addr string, current *atomic.Pointer[metrics.Metrics]) func() {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		m := current.Load()
		if m == nil {
			http.Error(w, "no run in progress", http.StatusServiceUnavailable)
			return
		}
		m.Handler().ServeHTTP(w, r)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// printRun prints the run summary and passes runErr through.
func printRun(cmd *cobra.Command, res *orchestrator.Result, runErr error) error {
	if res == nil {
		return runErr
	}
	w := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return errors.Join(runErr, err)
		}
		return runErr
	}
	printSummary(w, res)
	return runErr
}

func printSummary(w io.Writer, res *orchestrator.Result) {
	fmt.Fprintf(w, "Run %s: %s after %s\n", res.RunID, res.Status, res.Phase)
	fmt.Fprintf(w, "  directory:  %s\n", res.RunDir)
	fmt.Fprintf(w, "  candidates: %d\n", res.Candidates)
	fmt.Fprintf(w, "  sources:    %d\n", res.Sources)
	fmt.Fprintf(w, "  pdfs:       %d\n", res.PDFs)
	fmt.Fprintf(w, "  quotes:     %d\n", res.Quotes)
	for _, h := range res.Health {
		if h.Status == threshold.OK {
			continue
		}
		fmt.Fprintf(w, "  %-8s %s=%g (%s)\n", h.Status, h.Metric, h.Value, h.Action)
	}
	if res.Files.Bibliography != "" {
		fmt.Fprintf(w, "  bibliography:  %s\n", res.Files.Bibliography)
		fmt.Fprintf(w, "  quote library: %s\n", res.Files.Library)
	}
}
