// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrator

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/pdiddy/academic-agent/internal/agent"
	"github.com/pdiddy/academic-agent/internal/browser"
	"github.com/pdiddy/academic-agent/internal/convert"
	"github.com/pdiddy/academic-agent/internal/eventlog"
	"github.com/pdiddy/academic-agent/internal/failure"
	"github.com/pdiddy/academic-agent/internal/fetch"
	"github.com/pdiddy/academic-agent/internal/metrics"
	"github.com/pdiddy/academic-agent/internal/navigation"
	"github.com/pdiddy/academic-agent/internal/publisher"
	"github.com/pdiddy/academic-agent/internal/querygen"
	"github.com/pdiddy/academic-agent/internal/quotes"
	"github.com/pdiddy/academic-agent/internal/rank"
	"github.com/pdiddy/academic-agent/internal/ratelimit"
	"github.com/pdiddy/academic-agent/internal/search"
	"github.com/pdiddy/academic-agent/internal/shibboleth"
	"github.com/pdiddy/academic-agent/pkg/types"
)

// NavigationFile is the DBIS navigation session inside a run directory.
const NavigationFile = "navigation_session.json"

// QueryGenerator renders the per-back-end queries of phase 1.
type QueryGenerator interface {
	Generate(ctx context.Context, question string, backends []string, clusters []types.Cluster) (*querygen.Result, error)
}

// Searcher runs the search cycle of phase 2.
type Searcher interface {
	Search(ctx context.Context, bundle types.QueryBundle, opts search.Options) (*search.Result, error)
}

// Fetcher downloads the PDFs of phase 4.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []types.RankedSource) (*fetch.Result, error)
}

// QuoteExtractor extracts the quotes of phase 5.
type QuoteExtractor interface {
	ExtractAll(ctx context.Context, papers []quotes.Paper) (*quotes.Result, error)
}

// Toolkit hands out the phase workers of one run. Workers may share
// resources such as the browser session; Close releases them.
type Toolkit interface {
	Queries() QueryGenerator
	Searcher(ctx context.Context, backends []string) (Searcher, error)

	// Enricher completes source metadata before ranking; nil skips it.
	Enricher() rank.Enricher

	Fetcher(ctx context.Context) (Fetcher, error)
	Quotes(ctx context.Context) (QuoteExtractor, error)
	Close() error
}

// Env describes the run a toolkit works for.
type Env struct {
	RunID    string
	RunDir   string
	Research types.ResearchConfig
	Engine   types.EngineConfig
	Sink     *eventlog.Sink
	Log      *zap.Logger
	Metrics  *metrics.Metrics
}

// Stages opens the toolkit of a run.
type Stages func(ctx context.Context, env Env) (Toolkit, error)

// LaunchFunc starts a browser session.
type LaunchFunc func(ctx context.Context, cfg browser.LaunchConfig, log *zap.Logger) (browser.Session, error)

// Deps are the process-wide resources of the default toolkit.
type Deps struct {
	// Models answers sub-agent prompts. Without it queries fall back to
	// keyword heuristics and quote extraction is unavailable.
	Models agent.ModelClient
	Creds  types.Credentials

	// Client is used for metadata requests and Download for PDFs; nil
	// builds clients with the configured timeouts.
	Client   *http.Client
	Download *http.Client

	// Converter turns PDFs into text for quote verification; nil detects
	// one on first use.
	Converter convert.Converter

	// Launch starts the browser; nil uses the go-rod launcher.
	Launch LaunchFunc
}

// Default returns the stages wired to the real back-ends, fetch
// strategies and sub-agents.
func Default(d Deps) Stages {
	return func(_ context.Context, env Env) (Toolkit, error) {
		k := &toolkit{
			deps:   d,
			env:    env,
			log:    eventlog.OrNop(env.Log),
			limits: ratelimit.NewSet(env.Engine.Search.Limits),
		}
		if k.deps.Client == nil {
			k.deps.Client = &http.Client{Timeout: env.Engine.Search.Timeout}
		}
		if k.deps.Download == nil {
			k.deps.Download = &http.Client{Timeout: env.Engine.Fetch.DownloadTimeout}
		}
		if d.Models != nil {
			sp := agent.New(d.Models, env.Engine.Agent, agent.WithSink(env.Sink), agent.WithLogger(env.Log))
			k.spawner = &countingSpawner{spawner: sp, metrics: env.Metrics}
		}
		return k, nil
	}
}

type toolkit struct {
	deps    Deps
	env     Env
	log     *zap.Logger
	limits  *ratelimit.Set
	spawner *countingSpawner

	browserOnce sync.Once
	session     browser.Session
	raw         browser.Session
	tracker     *navigation.Tracker
	browserErr  error
}

func (k *toolkit) Queries() QueryGenerator {
	if k.spawner == nil {
		return querygen.New(nil, k.env.Sink, k.log)
	}
	return querygen.New(k.spawner, k.env.Sink, k.log)
}

func (k *toolkit) Searcher(ctx context.Context, backends []string) (Searcher, error) {
	deps := search.Deps{Client: k.deps.Client, Creds: k.deps.Creds}
	for _, b := range backends {
		if b != "dbis" || !k.env.Engine.Fetch.EnableBrowser {
			continue
		}
		sess, tracker, err := k.browser(ctx)
		if err != nil {
			k.log.Warn("browser unavailable, DBIS search disabled", zap.Error(err))
			break
		}
		dbs := k.env.Engine.Search.DBISDatabases
		if len(dbs) == 0 {
			dbs = search.DefaultDBISDatabases
		}
		deps.DBIS = &search.DBISBackend{
			Session:   sess,
			Tracker:   tracker,
			Auth:      k.auth(),
			PortalURL: search.DefaultDBISPortal,
			Databases: dbs,
			Log:       k.log,
		}
	}
	list, err := search.NewBackends(backends, deps, k.log)
	if err != nil {
		return nil, err
	}
	return search.NewFederation(list, k.env.Engine.Search,
		search.WithSink(k.env.Sink),
		search.WithLogger(k.log),
		search.WithLimits(k.limits),
	), nil
}

// maxEnrichLookups bounds the CrossRef lookups of one ranking phase.
const maxEnrichLookups = 100

// Enricher looks up sources that lack authors, year or venue (typically
// DBIS results) in CrossRef, under the CrossRef rate limit.
func (k *toolkit) Enricher() rank.Enricher {
	cr := &search.CrossRefBackend{Client: k.deps.Client, Email: k.deps.Creds.CrossRefEmail}
	lim := k.limits.For(cr.Name())
	opts := search.Options{UserAgent: k.env.Engine.Search.UserAgent}
	return rank.EnrichByDOI(func(ctx context.Context, doi string) (*types.Candidate, error) {
		if err := lim.Wait(ctx); err != nil {
			return nil, err
		}
		return cr.GetByDOI(ctx, doi, opts)
	}, maxEnrichLookups, k.log)
}

func (k *toolkit) Fetcher(ctx context.Context) (Fetcher, error) {
	cfg := k.env.Engine.Fetch
	d := fetch.Deps{
		Client: k.deps.Download,
		Limits: k.limits,
		Creds:  k.deps.Creds,
		Config: cfg,
		Sink:   k.env.Sink,
		Log:    k.log,
	}
	if cfg.EnableBrowser {
		sess, tracker, err := k.browser(ctx)
		if err != nil {
			k.log.Warn("browser unavailable, DBIS fetch disabled", zap.Error(err))
		} else {
			var sel publisher.Selectors
			if cfg.SelectorsFile != "" {
				if sel, err = publisher.LoadSelectors(cfg.SelectorsFile); err != nil {
					return nil, failure.New(failure.KindFatalConfig, "orchestrator.Fetcher", err)
				}
			}
			d.Session, d.Tracker, d.Auth = sess, tracker, k.auth()
			d.Navigator = publisher.NewNavigator(sel)
		}
	}
	return fetch.New(fetch.Options{
		RunDir:  k.env.RunDir,
		Workers: cfg.Workers,
		Sink:    k.env.Sink,
		Log:     k.log,
	}, fetch.Chain(d)...), nil
}

func (k *toolkit) Quotes(ctx context.Context) (QuoteExtractor, error) {
	if k.spawner == nil {
		return nil, failure.Newf(failure.KindFatalConfig, "orchestrator.Quotes", "no model client configured for quote extraction").
			WithAction("set ANTHROPIC_API_KEY")
	}
	conv := k.deps.Converter
	if conv == nil {
		var err error
		if conv, err = convert.Detect(ctx); err != nil {
			k.log.Warn("no PDF text converter, quotes stay unverified", zap.Error(err))
			conv = nil
		}
	}
	return quotes.New(k.spawner, quotes.Options{
		Question:  k.env.Research.ResearchQuestion,
		Workers:   k.env.Engine.QuoteWorkers,
		Converter: conv,
		TextDir:   filepath.Join(k.env.RunDir, "text"),
		Sink:      k.env.Sink,
		Log:       k.log,
	}), nil
}

func (k *toolkit) auth() *shibboleth.Authenticator {
	return shibboleth.New(shibboleth.Credentials{
		Username: k.deps.Creds.TIBUsername,
		Password: k.deps.Creds.TIBPassword,
	}, k.log)
}

// browser starts the run's single browser session on first use. Every
// navigation goes through the tracker persisted in the run directory.
func (k *toolkit) browser(ctx context.Context) (browser.Session, *navigation.Tracker, error) {
	k.browserOnce.Do(func() {
		tracker, err := navigation.NewTracker(filepath.Join(k.env.RunDir, NavigationFile))
		if err != nil {
			k.browserErr = err
			return
		}
		launch := k.deps.Launch
		if launch == nil {
			launch = func(ctx context.Context, cfg browser.LaunchConfig, log *zap.Logger) (browser.Session, error) {
				s, err := browser.Launch(ctx, cfg, log)
				if err != nil {
					return nil, err
				}
				return s, nil
			}
		}
		cfg := k.env.Engine.Fetch
		raw, err := launch(ctx, browser.LaunchConfig{
			Headless:          cfg.Headless,
			Bin:               cfg.BrowserBin,
			NavigationTimeout: cfg.NavigationTimeout,
		}, k.log)
		if err != nil {
			k.browserErr = err
			return
		}
		session, err := navigation.Attach(raw, tracker, navigation.NewDomainPolicy(cfg.Domains))
		if err != nil {
			raw.Close()
			k.browserErr = err
			return
		}
		k.raw, k.tracker, k.session = raw, tracker, session
	})
	return k.session, k.tracker, k.browserErr
}

func (k *toolkit) Close() error {
	if k.raw != nil {
		return k.raw.Close()
	}
	return nil
}

// countingSpawner records every answered spawn in the run metrics.
type countingSpawner struct {
	spawner *agent.Spawner
	metrics *metrics.Metrics
}

func (c *countingSpawner) Spawn(ctx context.Context, req agent.Request, validate agent.Validator) (agent.Response, error) {
	resp, err := c.spawner.Spawn(ctx, req, validate)
	if err == nil && c.metrics != nil {
		c.metrics.RecordAgent(req.AgentType, resp.Model)
	}
	return resp, err
}
