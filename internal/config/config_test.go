// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/academic-agent/internal/failure"
	"github.com/pdiddy/academic-agent/pkg/types"
)

var now = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

const validConfig = "# Research Config\n\n" +
	"## 1. PROJECT INFO\n\n" +
	"**Projekt-Titel:**\n```\nDevOps Governance Review\n```\n\n" +
	"**Forschungsfrage:**\n```\nHow is governance implemented in DevOps pipelines?\n```\n\n" +
	"---\n\n## 2. SEARCH CLUSTERS\n\n" +
	"### Cluster 1: Core concept\n\n**EN:**\n```\n- DevOps\n- CI/CD\n```\n\n" +
	"### Cluster 2: Context\n\n**EN:**\n```\n- governance, compliance\n```\n\n" +
	"### Cluster 3: Mechanisms\n\n**EN:**\n```\n- policy as code\n```\n\n" +
	"---\n\n## 3. DATABASES\n\n" +
	"**Primary Databases (3):**\n```\n1. IEEE Xplore\n2. ACM Digital Library\n3. Scopus\n```\n\n" +
	"## 4. TARGETS\n\n**Target Total:**\n```\n27 Quellen\n```\n\n" +
	"## 5. QUALITY THRESHOLDS\n\n" +
	"**Min Year:**\n```\n2015\n```\n\n" +
	"**Citation Threshold:**\n```\n10 Citations (minimum)\n```\n\n" +
	"**Min Score:** 3\n"

func TestParse(t *testing.T) {
	cfg, err := Parse(validConfig, now)
	require.NoError(t, err)

	want := types.ResearchConfig{
		ProjectTitle:     "DevOps Governance Review",
		ResearchQuestion: "How is governance implemented in DevOps pipelines?",
		Clusters: []types.Cluster{
			{Name: "Cluster 1", Keywords: []string{"DevOps", "CI/CD"}},
			{Name: "Cluster 2", Keywords: []string{"governance", "compliance"}},
			{Name: "Cluster 3", Keywords: []string{"policy as code"}},
		},
		PrimaryDatabases:  []string{"IEEE Xplore", "ACM Digital Library", "Scopus"},
		TargetTotal:       27,
		MinYear:           2015,
		CitationThreshold: 10,
		MinScore:          3,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_InlineValues(t *testing.T) {
	content := strings.Join([]string{
		"Projekt-Titel: Inline",
		"Forschungsfrage: `[Does inline work?]`",
		"Cluster 1: alpha, beta",
		"Cluster 2: gamma",
		"Cluster 3: delta",
		"Primary Databases: CrossRef, OpenAlex",
		"Target Total: 5",
		"Min Year: 2000",
		"Citation Threshold: 0",
		"Min Score: 0",
	}, "\n")
	cfg, err := Parse(content, now)
	require.NoError(t, err)
	assert.Equal(t, "Does inline work?", cfg.ResearchQuestion)
	assert.Equal(t, []string{"alpha", "beta"}, cfg.Clusters[0].Keywords)
	assert.Equal(t, []string{"CrossRef", "OpenAlex"}, cfg.PrimaryDatabases)
	assert.Equal(t, 5, cfg.TargetTotal)
}

func TestParse_MissingQuestion(t *testing.T) {
	content := strings.Replace(validConfig, "**Forschungsfrage:**\n```\nHow is governance implemented in DevOps pipelines?\n```\n", "", 1)
	_, err := Parse(content, now)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{LabelQuestion}, verr.Missing)
	assert.Empty(t, verr.Problems)
	assert.Contains(t, err.Error(), "missing required field: Forschungsfrage")
}

func TestParse_Rules(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		problem string
	}{
		{"question without question mark", "pipelines?", "pipelines", "must end with '?'"},
		{"min year too old", "\n2015\n", "\n1999\n", "Min Year must be in [2000, 2026], got 1999"},
		{"min year in the future", "\n2015\n", "\n2027\n", "Min Year must be in [2000, 2026], got 2027"},
		{"target total too small", "27 Quellen", "4 Quellen", "Target Total must be in [5, 50], got 4"},
		{"target total too large", "27 Quellen", "51", "Target Total must be in [5, 50], got 51"},
		{"negative threshold", "10 Citations", "-1 Citations", "Citation Threshold must not be negative"},
		{"threshold not a number", "10 Citations (minimum)", "many", `Citation Threshold is not a number: "many"`},
		{"negative min score", "**Min Score:** 3", "**Min Score:** -2", "Min Score must not be negative"},
		{"empty cluster", "- policy as code\n", "", "Cluster 3 has no keywords"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := strings.Replace(validConfig, tt.from, tt.to, 1)
			require.NotEqual(t, validConfig, content)
			_, err := Parse(content, now)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Empty(t, verr.Missing)
			require.Len(t, verr.Problems, 1)
			assert.Contains(t, verr.Problems[0], tt.problem)
		})
	}
}

func TestParse_MissingFieldsFirst(t *testing.T) {
	_, err := Parse("Forschungsfrage: no question mark\n", now)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{
		LabelTitle, "Cluster 1", "Cluster 2", "Cluster 3", LabelDatabases,
		LabelTargetTotal, LabelMinYear, LabelCitationThreshold, LabelMinScore,
	}, verr.Missing)
	all := verr.All()
	assert.Equal(t, "missing required field: "+LabelTitle, all[0])
	assert.Contains(t, all[len(all)-1], "must end with '?'")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "Config_DevOps.md")
	require.NoError(t, os.WriteFile(good, []byte(validConfig), 0o644))
	cfg, err := Load(good)
	require.NoError(t, err)
	assert.Equal(t, "DevOps Governance Review", cfg.ProjectTitle)

	bad := filepath.Join(dir, "Config_Bad.md")
	require.NoError(t, os.WriteFile(bad, []byte("nothing here"), 0o644))
	_, err = Load(bad)
	assert.True(t, failure.Is(err, failure.KindFatalConfig))

	_, err = Load(filepath.Join(dir, "missing.md"))
	assert.True(t, failure.Is(err, failure.KindFatalConfig))
}

func TestEngineDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	v, used, err := NewViper("")
	require.NoError(t, err)
	assert.Empty(t, used)

	cfg, err := Engine(v)
	require.NoError(t, err)
	assert.Equal(t, "runs", cfg.RunsDir)
	assert.Equal(t, 5*time.Minute, cfg.CheckpointInterval)
	assert.Equal(t, 30*time.Second, cfg.Search.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Fetch.DownloadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Fetch.NavigationTimeout)
	assert.Equal(t, 3.0, cfg.Search.Limits["crossref"].RPS)
	assert.Equal(t, 1.0, cfg.Search.Limits["semantic_scholar"].RPS)
	assert.Equal(t, "claude-haiku-4-5", cfg.Agent.PreferredModel)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Agent.FallbackModel)
	assert.Equal(t, types.RankingWeights{Recency: 0.25, Citations: 0.35, Authority: 0.2, Coverage: 0.2}, cfg.Ranking)
	assert.True(t, cfg.Fetch.Headless)
}

func TestEngineFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "academic-agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
runs_dir: /tmp/research-runs
fetch:
  workers: 8
  enable_browser: true
search:
  limits:
    crossref:
      rps: 5
ranking:
  citations: 0.5
`), 0o644))
	t.Setenv("ACADEMIC_AGENT_QUOTE_WORKERS", "6")

	v, used, err := NewViper(path)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	cfg, err := Engine(v)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/research-runs", cfg.RunsDir)
	assert.Equal(t, 8, cfg.Fetch.Workers)
	assert.True(t, cfg.Fetch.EnableBrowser)
	assert.Equal(t, 5.0, cfg.Search.Limits["crossref"].RPS)
	assert.Equal(t, 10.0, cfg.Search.Limits["openalex"].RPS)
	assert.Equal(t, 0.5, cfg.Ranking.Citations)
	assert.Equal(t, 0.25, cfg.Ranking.Recency)
	assert.Equal(t, 6, cfg.QuoteWorkers)
}

func TestEngineInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "academic-agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fetch:\n  workers: 0\nranking:\n  recency: -1\n"), 0o644))
	v, _, err := NewViper(path)
	require.NoError(t, err)
	_, err = Engine(v)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindFatalConfig))
	assert.Contains(t, err.Error(), "fetch.workers")
	assert.Contains(t, err.Error(), "ranking weights must not be negative")
}

func TestFormat_RoundTrip(t *testing.T) {
	cfg, err := Parse(validConfig, now)
	require.NoError(t, err)

	again, err := Parse(Format(cfg), now)
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, again); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
