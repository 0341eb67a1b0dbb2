// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pdiddy/academic-agent/internal/agent"
	"github.com/pdiddy/academic-agent/internal/checkpoint"
	"github.com/pdiddy/academic-agent/internal/failure"
	"github.com/pdiddy/academic-agent/internal/fetch"
	"github.com/pdiddy/academic-agent/internal/rank"
	"github.com/pdiddy/academic-agent/internal/ratelimit"
	"github.com/pdiddy/academic-agent/pkg/types"
)

const (
	// EngineConfigName is the engine config file name without extension.
	EngineConfigName = "academic-agent"

	// EnvPrefix prefixes engine settings in the environment, e.g.
	// ACADEMIC_AGENT_RUNS_DIR.
	EnvPrefix = "ACADEMIC_AGENT"

	defaultUserAgent = "academic-agent/0.1 (mailto:research@example.org)"
)

// NewViper returns a viper instance reading cfgFile, or when empty
// academic-agent.yaml from "." or ~/.config/academic-agent/, with
// ACADEMIC_AGENT_* environment overrides and engine defaults. A missing
// config file is not an error; the returned path is empty then.
func NewViper(cfgFile string) (*viper.Viper, string, error) {
	v := viper.New()
	SetDefaults(v)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(EngineConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", EngineConfigName))
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, "", nil
		}
		return nil, "", failure.New(failure.KindFatalConfig, "config.NewViper", err)
	}
	return v, v.ConfigFileUsed(), nil
}

// SetDefaults registers the engine defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("runs_dir", "runs")
	v.SetDefault("checkpoint_interval", checkpoint.DefaultInterval)
	v.SetDefault("run_budget", 4*time.Hour)
	v.SetDefault("quote_workers", 2)

	v.SetDefault("search.timeout", 30*time.Second)
	v.SetDefault("search.user_agent", defaultUserAgent)
	v.SetDefault("search.max_results", 50)
	v.SetDefault("search.backend_timeout", 90*time.Second)
	v.SetDefault("search.retry_backoff", 2*time.Second)
	for name, l := range ratelimit.DefaultLimits {
		v.SetDefault("search.limits."+name+".rps", l.RPS)
		v.SetDefault("search.limits."+name+".daily", l.Daily)
	}

	v.SetDefault("fetch.download_timeout", 60*time.Second)
	v.SetDefault("fetch.navigation_timeout", 60*time.Second)
	v.SetDefault("fetch.workers", 4)
	v.SetDefault("fetch.dbis_portal_url", fetch.DefaultPortalURL)
	v.SetDefault("fetch.enable_browser", false)
	v.SetDefault("fetch.headless", true)

	v.SetDefault("ranking.recency", rank.DefaultWeights.Recency)
	v.SetDefault("ranking.citations", rank.DefaultWeights.Citations)
	v.SetDefault("ranking.authority", rank.DefaultWeights.Authority)
	v.SetDefault("ranking.coverage", rank.DefaultWeights.Coverage)

	v.SetDefault("agent.preferred_model", agent.DefaultPreferredModel)
	v.SetDefault("agent.fallback_model", agent.DefaultFallbackModel)
	v.SetDefault("agent.timeout", agent.DefaultTimeout)
	v.SetDefault("agent.max_tokens", 4096)
}

// Engine decodes the engine settings held by v.
func Engine(v *viper.Viper) (types.EngineConfig, error) {
	var cfg types.EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, failure.New(failure.KindFatalConfig, "config.Engine", err)
	}
	if err := checkEngine(cfg); err != nil {
		return cfg, failure.New(failure.KindFatalConfig, "config.Engine", err)
	}
	return cfg, nil
}

func checkEngine(cfg types.EngineConfig) error {
	var problems []string
	if cfg.RunsDir == "" {
		problems = append(problems, "runs_dir is empty")
	}
	if cfg.Fetch.Workers < 1 {
		problems = append(problems, "fetch.workers must be at least 1")
	}
	if cfg.QuoteWorkers < 1 {
		problems = append(problems, "quote_workers must be at least 1")
	}
	w := cfg.Ranking
	if w.Recency < 0 || w.Citations < 0 || w.Authority < 0 || w.Coverage < 0 {
		problems = append(problems, "ranking weights must not be negative")
	}
	if w.Recency+w.Citations+w.Authority+w.Coverage == 0 {
		problems = append(problems, "ranking weights must not all be zero")
	}
	for name, l := range cfg.Search.Limits {
		if l.RPS < 0 || l.Daily < 0 {
			problems = append(problems, fmt.Sprintf("search.limits.%s must not be negative", name))
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
