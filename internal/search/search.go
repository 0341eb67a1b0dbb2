// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package search fans a query bundle out to bibliographic back-ends and
// collects their candidates. A failing back-end is retried once and then
// excluded from the cycle; the federation itself never fails because one
// back-end did.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/academic-agent/internal/eventlog"
	"github.com/pdiddy/academic-agent/internal/failure"
	"github.com/pdiddy/academic-agent/internal/ratelimit"
	"github.com/pdiddy/academic-agent/pkg/types"
)

const (
	defaultMaxResults     = 20
	defaultBackendTimeout = 90 * time.Second
	defaultRetryBackoff   = 2 * time.Second
	defaultUserAgent      = "academic-agent/dev"
)

// Backend searches a single bibliographic database.
type Backend interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]types.Candidate, error)
}

// Options carries per-cycle search settings shared by all back-ends.
type Options struct {
	MaxResults int
	MinYear    int
	UserAgent  string

	// Databases names the publisher databases the DBIS back-end should
	// browse; API back-ends ignore it.
	Databases []string
}

func (o Options) limit() int {
	if o.MaxResults <= 0 {
		return defaultMaxResults
	}
	return o.MaxResults
}

func (o Options) userAgent() string {
	if o.UserAgent == "" {
		return defaultUserAgent
	}
	return o.UserAgent
}

// Result is the candidate bag of one search cycle.
type Result struct {
	Candidates []types.Candidate `json:"candidates"`

	// Counts maps each back-end to the candidates it contributed.
	Counts map[string]int `json:"counts"`

	// Failed maps each excluded back-end to its final error.
	Failed map[string]string `json:"failed,omitempty"`
}

// Federation dispatches queries to back-ends concurrently.
type Federation struct {
	backends []Backend
	limits   *ratelimit.Set
	timeout  time.Duration
	backoff  time.Duration
	sink     *eventlog.Sink
	log      *zap.Logger
}

// FederationOption configures a Federation.
type FederationOption func(*Federation)

// WithSink routes back-end events to the run's event sink.
func WithSink(s *eventlog.Sink) FederationOption {
	return func(f *Federation) { f.sink = s }
}

// WithLogger sets the process logger.
func WithLogger(l *zap.Logger) FederationOption {
	return func(f *Federation) { f.log = eventlog.OrNop(l) }
}

// WithLimits shares a limiter set across the run.
func WithLimits(s *ratelimit.Set) FederationOption {
	return func(f *Federation) { f.limits = s }
}

// NewFederation returns a federation over backends using cfg's timeouts.
func NewFederation(backends []Backend, cfg types.SearchConfig, opts ...FederationOption) *Federation {
	f := &Federation{
		backends: backends,
		timeout:  cfg.BackendTimeout,
		backoff:  cfg.RetryBackoff,
		log:      zap.NewNop(),
	}
	if f.timeout <= 0 {
		f.timeout = defaultBackendTimeout
	}
	if f.backoff <= 0 {
		f.backoff = defaultRetryBackoff
	}
	for _, o := range opts {
		o(f)
	}
	if f.limits == nil {
		f.limits = ratelimit.NewSet(cfg.Limits)
	}
	return f
}

// Backends returns the configured back-end names.
func (f *Federation) Backends() []string {
	names := make([]string, len(f.backends))
	for i, b := range f.backends {
		names[i] = b.Name()
	}
	return names
}

// Search runs every back-end's rendered query from bundle concurrently.
// Candidates are returned in back-end order. It returns an error only when
// no back-end is configured or ctx ends.
func (f *Federation) Search(ctx context.Context, bundle types.QueryBundle, opts Options) (*Result, error) {
	if len(f.backends) == 0 {
		return nil, failure.Newf(failure.KindFatalConfig, "search", "no search back-ends configured")
	}
	if strings.TrimSpace(bundle.Question) == "" && len(bundle.Queries) == 0 {
		return nil, failure.Newf(failure.KindFatalConfig, "search", "query is empty: provide a research question")
	}

	per := make([][]types.Candidate, len(f.backends))
	errs := make([]error, len(f.backends))

	var g errgroup.Group
	for i, b := range f.backends {
		g.Go(func() error {
			start := time.Now()
			query := bundle.Query(b.Name())
			res, err := f.runBackend(ctx, b, query, opts)
			if err != nil {
				errs[i] = err
				f.sink.Warn("search", "back-end-failed", eventlog.Payload{
					"backend": b.Name(),
					"kind":    failure.KindOf(err).String(),
					"error":   err,
				})
				f.log.Warn("back-end excluded from cycle", zap.String("backend", b.Name()), zap.Error(err))
				return nil
			}
			per[i] = res
			f.sink.Emit("search", "back-end-completed", eventlog.Payload{
				"backend":     b.Name(),
				"query":       query,
				"candidates":  len(res),
				"duration_ms": time.Since(start).Milliseconds(),
			})
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Result{Counts: map[string]int{}}
	for i, b := range f.backends {
		if errs[i] != nil {
			if out.Failed == nil {
				out.Failed = map[string]string{}
			}
			out.Failed[b.Name()] = errs[i].Error()
			out.Counts[b.Name()] = 0
			continue
		}
		out.Counts[b.Name()] = len(per[i])
		out.Candidates = append(out.Candidates, per[i]...)
	}
	return out, nil
}

// runBackend makes one attempt and, on a retryable failure, a single retry
// after the federation backoff. Each attempt is bounded by the back-end
// timeout.
func (f *Federation) runBackend(ctx context.Context, b Backend, query string, opts Options) ([]types.Candidate, error) {
	lim := f.limits.For(b.Name())
	attempt := func() ([]types.Candidate, error) {
		actx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		if err := lim.Wait(actx); err != nil {
			if errors.Is(err, ratelimit.ErrDailyCap) {
				return nil, failure.New(failure.KindBackendUnavailable, b.Name(), err)
			}
			return nil, err
		}
		return b.Search(actx, query, opts)
	}

	res, err := attempt()
	if err == nil || !retryWorthy(ctx, err) {
		return res, classify(b.Name(), err)
	}
	f.log.Debug("retrying back-end", zap.String("backend", b.Name()), zap.Duration("backoff", f.backoff), zap.Error(err))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(f.backoff):
	}
	res, err = attempt()
	return res, classify(b.Name(), err)
}

func retryWorthy(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch failure.KindOf(err) {
	case failure.KindInvariantViolation, failure.KindAuthentication, failure.KindFatalConfig:
		return false
	}
	return !errors.Is(err, ratelimit.ErrDailyCap)
}

// classify marks unclassified back-end errors as BackendUnavailable.
func classify(backend string, err error) error {
	if err == nil {
		return nil
	}
	if failure.KindOf(err) != failure.KindUnknown {
		return err
	}
	return failure.New(failure.KindBackendUnavailable, backend, err)
}

// Deps carries what back-end construction needs.
type Deps struct {
	Client *http.Client
	Creds  types.Credentials

	// DBIS is used for the "dbis" back-end; nil leaves it out.
	DBIS *DBISBackend
}

// apiBackends maps accepted database names to API back-end identifiers.
var apiBackends = map[string]string{
	"crossref":         "crossref",
	"openalex":         "openalex",
	"semantic scholar": "semantic_scholar",
	"semantic_scholar": "semantic_scholar",
	"semanticscholar":  "semantic_scholar",
	"pubmed":           "pubmed",
	"arxiv":            "arxiv",
	"dbis":             "dbis",
}

// PlanDatabases splits the research config's primary databases into API
// back-end names and publisher databases to browse through DBIS. An empty
// list selects CrossRef, OpenAlex and Semantic Scholar.
func PlanDatabases(primary []string) (backends, dbisDatabases []string) {
	seen := map[string]bool{}
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			backends = append(backends, n)
		}
	}
	for _, p := range primary {
		name := strings.ToLower(strings.TrimSpace(p))
		if name == "" {
			continue
		}
		if id, ok := apiBackends[name]; ok {
			add(id)
			continue
		}
		dbisDatabases = append(dbisDatabases, strings.TrimSpace(p))
		add("dbis")
	}
	if len(backends) == 0 {
		backends = []string{"crossref", "openalex", "semantic_scholar"}
	}
	return backends, dbisDatabases
}

// NewBackends builds back-ends by identifier. "dbis" is skipped with a
// warning when deps.DBIS is nil.
func NewBackends(names []string, deps Deps, log *zap.Logger) ([]Backend, error) {
	log = eventlog.OrNop(log)
	client := deps.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	var out []Backend
	for _, n := range names {
		switch n {
		case "crossref":
			out = append(out, &CrossRefBackend{Client: client, Email: deps.Creds.CrossRefEmail})
		case "openalex":
			out = append(out, &OpenAlexBackend{Client: client, Email: deps.Creds.OpenAlexEmail})
		case "semantic_scholar":
			out = append(out, &SemanticScholarBackend{Client: client, APIKey: deps.Creds.SemanticScholarAPIKey})
		case "pubmed":
			out = append(out, &PubMedBackend{Client: client, APIKey: deps.Creds.PubMedAPIKey, Email: deps.Creds.CrossRefEmail})
		case "arxiv":
			out = append(out, &ArxivBackend{Client: client})
		case "dbis":
			if deps.DBIS == nil {
				log.Warn("DBIS back-end requested but the browser is disabled; skipping")
				continue
			}
			out = append(out, deps.DBIS)
		default:
			return nil, failure.Newf(failure.KindFatalConfig, "search.NewBackends", "unknown search back-end %q", n)
		}
	}
	return out, nil
}

// FormatTable writes candidates as a human-readable table to w.
func FormatTable(res *Result, w io.Writer) {
	if res == nil || len(res.Candidates) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}

	fmt.Fprintf(w, "%-4s  %-60s  %-20s  %-4s  %-6s  %s\n",
		"#", "Title", "Authors", "Year", "Cites", "Source")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for i, c := range res.Candidates {
		year := ""
		if c.Year > 0 {
			year = fmt.Sprintf("%d", c.Year)
		}
		fmt.Fprintf(w, "%-4d  %-60s  %-20s  %-4s  %-6d  %s\n",
			i+1, truncate(c.Title, 60), formatAuthors(c.Authors), year, c.Citations, c.Source)
	}

	fmt.Fprintf(w, "\n%d results", len(res.Candidates))
	if len(res.Failed) > 0 {
		names := make([]string, 0, len(res.Failed))
		for n := range res.Failed {
			names = append(names, n)
		}
		sort.Strings(names)
		fmt.Fprintf(w, " (failed back-ends: %s)", strings.Join(names, ", "))
	}
	fmt.Fprintln(w)
}

// FormatJSON writes the result as indented JSON to w.
func FormatJSON(res *Result, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func formatAuthors(authors []string) string {
	switch len(authors) {
	case 0:
		return ""
	case 1:
		return truncate(authors[0], 20)
	default:
		return truncate(authors[0], 14) + " et al."
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
