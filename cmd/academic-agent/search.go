// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/academic-agent/internal/agent"
	"github.com/pdiddy/academic-agent/internal/config"
	"github.com/pdiddy/academic-agent/internal/querygen"
	"github.com/pdiddy/academic-agent/internal/ratelimit"
	"github.com/pdiddy/academic-agent/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search <question>",
	Short: "Search the bibliographic APIs for candidate papers",
	Long: `Search runs one search cycle outside of a run: it renders a query per
back-end (with the query-generation agent when --generate is set and
ANTHROPIC_API_KEY is available, otherwise from the question's keywords),
queries the back-ends concurrently and prints the candidates.

DBIS publisher databases need the browser and are only searched inside a run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringSlice("databases", []string{"CrossRef", "OpenAlex", "Semantic Scholar"}, "databases to search")
	searchCmd.Flags().Int("max-results", 20, "maximum results per back-end")
	searchCmd.Flags().Int("min-year", 0, "drop candidates published before this year")
	searchCmd.Flags().Bool("generate", false, "render queries with the query-generation agent")
	searchCmd.Flags().Bool("json", false, "output results as JSON")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	cfg, err := config.Engine(engine)
	if err != nil {
		return err
	}
	creds, err := loadCredentials(cmd)
	if err != nil {
		return err
	}

	dbs, _ := cmd.Flags().GetStringSlice("databases")
	names, _ := search.PlanDatabases(dbs)
	backends, err := search.NewBackends(names, search.Deps{
		Client: &http.Client{Timeout: cfg.Search.Timeout},
		Creds:  creds,
	}, logger)
	if err != nil {
		return err
	}

	var sp querygen.Spawner
	if gen, _ := cmd.Flags().GetBool("generate"); gen {
		client, err := agent.NewClaudeClient(creds.AnthropicAPIKey, agent.WithMaxTokens(cfg.Agent.MaxTokens))
		if err != nil {
			return err
		}
		sp = agent.New(client, cfg.Agent, agent.WithLogger(logger))
	}
	q, err := querygen.New(sp, nil, logger).Generate(cmd.Context(), question, names, nil)
	if err != nil {
		return err
	}
	for name, query := range q.Bundle.Queries {
		logger.Info("query", zap.String("backend", name), zap.String("query", query))
	}

	fed := search.NewFederation(backends, cfg.Search,
		search.WithLogger(logger),
		search.WithLimits(ratelimit.NewSet(cfg.Search.Limits)),
	)
	logger.Info("searching", zap.Strings("backends", fed.Backends()))
	maxResults, _ := cmd.Flags().GetInt("max-results")
	minYear, _ := cmd.Flags().GetInt("min-year")
	res, err := fed.Search(cmd.Context(), q.Bundle, search.Options{
		MaxResults: maxResults,
		MinYear:    minYear,
		UserAgent:  cfg.Search.UserAgent,
	})
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return search.FormatJSON(res, cmd.OutOrStdout())
	}
	search.FormatTable(res, cmd.OutOrStdout())
	return nil
}
