// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// ResearchConfig is the parsed Markdown research configuration for one run.
type ResearchConfig struct {
	ProjectTitle      string    `json:"project_title" yaml:"project_title"`
	ResearchQuestion  string    `json:"research_question" yaml:"research_question"`
	Clusters          []Cluster `json:"clusters" yaml:"clusters"`
	PrimaryDatabases  []string  `json:"primary_databases" yaml:"primary_databases"`
	TargetTotal       int       `json:"target_total" yaml:"target_total"`
	MinYear           int       `json:"min_year" yaml:"min_year"`
	CitationThreshold int       `json:"citation_threshold" yaml:"citation_threshold"`
	MinScore          int       `json:"min_score" yaml:"min_score"`
}

// Cluster is one keyword cluster of the research config.
type Cluster struct {
	Name     string   `json:"name" yaml:"name"`
	Keywords []string `json:"keywords" yaml:"keywords"`
}

// ClusterTags returns the cluster names in order.
func (c ResearchConfig) ClusterTags() []string {
	tags := make([]string, 0, len(c.Clusters))
	for _, cl := range c.Clusters {
		tags = append(tags, cl.Name)
	}
	return tags
}

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout bounds a single metadata request (default 30s).
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// BackendLimit is the rate policy for one search back-end.
type BackendLimit struct {
	// RPS is the sustained request rate.
	RPS float64 `json:"rps" yaml:"rps" mapstructure:"rps"`

	// Daily caps requests per day; 0 means unlimited.
	Daily int `json:"daily" yaml:"daily" mapstructure:"daily"`
}

// SearchConfig holds settings for the search stage.
type SearchConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// MaxResults is the per-back-end result limit (default 50).
	MaxResults int `json:"max_results" yaml:"max_results" mapstructure:"max_results"`

	// BackendTimeout bounds one back-end call including its retry (default 90s).
	BackendTimeout time.Duration `json:"backend_timeout" yaml:"backend_timeout" mapstructure:"backend_timeout"`

	// RetryBackoff is the delay before the single federation-level retry (default 2s).
	RetryBackoff time.Duration `json:"retry_backoff" yaml:"retry_backoff" mapstructure:"retry_backoff"`

	// Limits maps back-end name to its rate policy.
	Limits map[string]BackendLimit `json:"limits" yaml:"limits" mapstructure:"limits"`

	// DBISDatabases lists the publisher databases the DBIS back-end may browse.
	DBISDatabases []DBISDatabase `json:"dbis_databases" yaml:"dbis_databases" mapstructure:"dbis_databases"`
}

// DBISDatabase is a publisher database reachable through the DBIS portal.
type DBISDatabase struct {
	Name string `json:"name" yaml:"name" mapstructure:"name"`

	// SearchURL holds a {query} placeholder for the URL-escaped query.
	SearchURL string `json:"search_url" yaml:"search_url" mapstructure:"search_url"`
}

// RankingWeights weights the score components. They need not sum to 1.
type RankingWeights struct {
	Recency   float64 `json:"recency" yaml:"recency" mapstructure:"recency"`
	Citations float64 `json:"citations" yaml:"citations" mapstructure:"citations"`
	Authority float64 `json:"authority" yaml:"authority" mapstructure:"authority"`
	Coverage  float64 `json:"coverage" yaml:"coverage" mapstructure:"coverage"`
}

// FetchConfig holds settings for the PDF fetch stage.
type FetchConfig struct {
	// DownloadTimeout bounds a single PDF download (default 60s).
	DownloadTimeout time.Duration `json:"download_timeout" yaml:"download_timeout" mapstructure:"download_timeout"`

	// NavigationTimeout bounds one browser navigation (default 60s).
	NavigationTimeout time.Duration `json:"navigation_timeout" yaml:"navigation_timeout" mapstructure:"navigation_timeout"`

	// Workers is the number of papers fetched concurrently over HTTP (default 4).
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`

	// DBISPortalURL is the portal entry page opened by the browser strategy.
	DBISPortalURL string `json:"dbis_portal_url" yaml:"dbis_portal_url" mapstructure:"dbis_portal_url"`

	// EnableBrowser turns the DBIS browser strategy on.
	EnableBrowser bool `json:"enable_browser" yaml:"enable_browser" mapstructure:"enable_browser"`

	// Headless runs the browser without a window.
	Headless bool `json:"headless" yaml:"headless" mapstructure:"headless"`

	// BrowserBin overrides the browser binary; empty lets the launcher pick.
	BrowserBin string `json:"browser_bin,omitempty" yaml:"browser_bin,omitempty" mapstructure:"browser_bin"`

	// SelectorsFile optionally overrides the publisher selector table.
	SelectorsFile string `json:"selectors_file,omitempty" yaml:"selectors_file,omitempty" mapstructure:"selectors_file"`

	// Domains restricts the hosts the browser may open.
	Domains DomainConfig `json:"domains" yaml:"domains" mapstructure:"domains"`
}

// DomainConfig extends the built-in browser domain policy. Hosts match
// themselves and their subdomains; blocked entries are glob patterns on
// the host name (e.g. "sci-hub.*").
type DomainConfig struct {
	// TrustedProxies are always allowed, in addition to the DBIS portal.
	TrustedProxies []string `json:"trusted_proxies,omitempty" yaml:"trusted_proxies,omitempty" mapstructure:"trusted_proxies"`

	// Blocked are always refused, in addition to the built-in list.
	Blocked []string `json:"blocked,omitempty" yaml:"blocked,omitempty" mapstructure:"blocked"`

	// Allowed, when non-empty, is the only set of other hosts the browser
	// may open once a DBIS session is active.
	Allowed []string `json:"allowed,omitempty" yaml:"allowed,omitempty" mapstructure:"allowed"`
}

// AgentConfig holds settings for LLM sub-agents.
type AgentConfig struct {
	PreferredModel string        `json:"preferred_model" yaml:"preferred_model" mapstructure:"preferred_model"`
	FallbackModel  string        `json:"fallback_model" yaml:"fallback_model" mapstructure:"fallback_model"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	MaxTokens      int           `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
}

// EngineConfig groups all engine settings. It is loaded from the
// academic-agent.yaml config file and ACADEMIC_AGENT_* environment variables.
type EngineConfig struct {
	// RunsDir is the parent directory of run directories (default "runs").
	RunsDir string `json:"runs_dir" yaml:"runs_dir" mapstructure:"runs_dir"`

	// CheckpointInterval is the minimum time between interval checkpoints (default 5m).
	CheckpointInterval time.Duration `json:"checkpoint_interval" yaml:"checkpoint_interval" mapstructure:"checkpoint_interval"`

	// RunBudget is the wall-clock budget used for budget_percent_used (default 4h).
	RunBudget time.Duration `json:"run_budget" yaml:"run_budget" mapstructure:"run_budget"`

	// QuoteWorkers bounds concurrent quote-extraction agents (default 2).
	QuoteWorkers int `json:"quote_workers" yaml:"quote_workers" mapstructure:"quote_workers"`

	Search  SearchConfig   `json:"search" yaml:"search" mapstructure:"search"`
	Fetch   FetchConfig    `json:"fetch" yaml:"fetch" mapstructure:"fetch"`
	Ranking RankingWeights `json:"ranking" yaml:"ranking" mapstructure:"ranking"`
	Agent   AgentConfig    `json:"agent" yaml:"agent" mapstructure:"agent"`
}

// Credentials holds secrets and polite-pool identities read from the
// environment. They are never written to disk.
type Credentials struct {
	TIBUsername           string `env:"TIB_USERNAME"`
	TIBPassword           string `env:"TIB_PASSWORD"`
	AnthropicAPIKey       string `env:"ANTHROPIC_API_KEY"`
	CoreAPIKey            string `env:"CORE_API_KEY"`
	UnpaywallEmail        string `env:"UNPAYWALL_EMAIL"`
	CrossRefEmail         string `env:"CROSSREF_EMAIL"`
	OpenAlexEmail         string `env:"OPENALEX_EMAIL"`
	SemanticScholarAPIKey string `env:"S2_API_KEY"`
	PubMedAPIKey          string `env:"NCBI_API_KEY"`
}
