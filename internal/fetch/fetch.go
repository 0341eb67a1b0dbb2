// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fetch downloads the PDFs of ranked sources. Each paper runs a
// fixed chain of strategies (open-access resolver, CORE aggregator, DBIS
// browser, landing page) and stops at the first accepted PDF. Every
// attempt is recorded in the run's download log.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/academic-agent/internal/browser"
	"github.com/pdiddy/academic-agent/internal/eventlog"
	"github.com/pdiddy/academic-agent/internal/failure"
	"github.com/pdiddy/academic-agent/internal/navigation"
	"github.com/pdiddy/academic-agent/internal/publisher"
	"github.com/pdiddy/academic-agent/internal/ratelimit"
	"github.com/pdiddy/academic-agent/internal/shibboleth"
	"github.com/pdiddy/academic-agent/pkg/types"
)

// AgentName is the event stream the fetcher writes to.
const AgentName = "pdf_fetcher"

const (
	defaultWorkers         = 4
	defaultDownloadTimeout = 60 * time.Second
	pdfsDir                = "pdfs"
)

// ErrNoCandidate is returned by a strategy that found nothing to download.
var ErrNoCandidate = errors.New("no PDF candidate")

// Document is a response body a strategy believes to be the paper's PDF.
type Document struct {
	URL         string
	Status      int
	ContentType string
	Body        []byte
}

// Strategy is one way of obtaining a paper's PDF.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, src types.RankedSource) (*Document, error)
}

// Options configures a Fetcher.
type Options struct {
	// RunDir is the run directory; PDFs go to RunDir/pdfs and the log to
	// RunDir/downloads/downloads.json.
	RunDir  string
	Workers int
	Sink    *eventlog.Sink
	Log     *zap.Logger
}

// Fetcher runs the strategy chain over a set of ranked sources.
type Fetcher struct {
	strategies []Strategy
	opts       Options
	log        *zap.Logger
}

// New returns a Fetcher that tries strategies in the given order.
func New(opts Options, strategies ...Strategy) *Fetcher {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	return &Fetcher{strategies: strategies, opts: opts, log: eventlog.OrNop(opts.Log)}
}

// Outcome is the result for one paper. Err is nil on success and
// otherwise a PDFUnavailable failure combining every strategy's reason.
type Outcome struct {
	Record types.DownloadRecord
	Err    error
}

// Result summarizes a fetch phase.
type Result struct {
	Outcomes   []Outcome
	Downloaded int
	Failed     int
}

// Records returns the download records in source order.
func (r *Result) Records() []types.DownloadRecord {
	out := make([]types.DownloadRecord, len(r.Outcomes))
	for i, o := range r.Outcomes {
		out[i] = o.Record
	}
	return out
}

// SuccessRate is the share of papers with a PDF on disk.
func (r *Result) SuccessRate() float64 {
	if len(r.Outcomes) == 0 {
		return 0
	}
	return float64(r.Downloaded) / float64(len(r.Outcomes))
}

// FetchAll fetches every source, at most Workers at a time. Papers already
// downloaded according to the existing download log are not fetched again.
// Per-paper failures never fail the call; the error is non-nil only when
// the context ends or the download log cannot be written.
func (f *Fetcher) FetchAll(ctx context.Context, sources []types.RankedSource) (*Result, error) {
	ledger, err := OpenLedger(f.opts.RunDir)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(f.opts.RunDir, pdfsDir)
	names, err := PlanFilenames(dir, sources, ledger)
	if err != nil {
		return nil, err
	}

	res := &Result{Outcomes: make([]Outcome, len(sources))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Workers)
	for i, src := range sources {
		if rec, ok := ledger.Downloaded(src.Key()); ok {
			res.Outcomes[i] = Outcome{Record: rec}
			f.log.Debug("PDF already downloaded", zap.String("source", src.ID), zap.String("path", rec.Artifact.Path))
			continue
		}
		g.Go(func() error {
			out := f.fetchOne(gctx, src, filepath.Join(dir, names[src.Key()]))
			if err := gctx.Err(); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			res.Outcomes[i] = out
			return ledger.Put(out.Record)
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	for _, o := range res.Outcomes {
		if o.Record.Succeeded() {
			res.Downloaded++
		} else {
			res.Failed++
		}
	}
	f.opts.Sink.Emit(AgentName, "fetch-completed", eventlog.Payload{
		"papers":       len(sources),
		"downloaded":   res.Downloaded,
		"failed":       res.Failed,
		"success_rate": res.SuccessRate(),
	})
	return res, nil
}

// fetchOne runs the strategy chain for one paper.
func (f *Fetcher) fetchOne(ctx context.Context, src types.RankedSource, path string) Outcome {
	rec := types.DownloadRecord{
		PaperKey: src.Key(),
		SourceID: src.ID,
		DOI:      src.DOI,
		Title:    src.Title,
	}
	var reasons error
	for _, s := range f.strategies {
		if ctx.Err() != nil {
			break
		}
		att := types.DownloadAttempt{PaperKey: rec.PaperKey, Strategy: s.Name()}
		doc, err := s.Fetch(ctx, src)
		att.Timestamp = time.Now().UTC()
		if err == nil {
			att.SourceURL = doc.URL
			att.HTTPStatus = doc.Status
			att.Bytes = int64(len(doc.Body))
			att.Outcome, err = Accept(doc)
		} else {
			att.Outcome = outcomeOf(err)
		}
		if err == nil {
			var art *types.PDFArtifact
			art, err = WritePDF(path, doc.Body)
			if err == nil {
				art.Strategy = s.Name()
				rec.Artifact = art
				rec.Attempts = append(rec.Attempts, att)
				f.opts.Sink.Emit(AgentName, "pdf-downloaded", eventlog.Payload{
					"source_id": src.ID,
					"strategy":  s.Name(),
					"path":      art.Path,
					"bytes":     art.Bytes,
				})
				f.log.Info("PDF downloaded", zap.String("source", src.ID), zap.String("strategy", s.Name()))
				return Outcome{Record: rec}
			}
			att.Outcome = types.OutcomeError
		}
		att.Error = err.Error()
		rec.Attempts = append(rec.Attempts, att)
		reasons = multierr.Append(reasons, fmt.Errorf("%s: %w", s.Name(), err))
		f.log.Debug("strategy failed", zap.String("source", src.ID), zap.String("strategy", s.Name()), zap.Error(err))
	}
	if reasons == nil {
		reasons = errors.New("no strategy configured")
	}
	fail := failure.New(failure.KindPDFUnavailable, "fetch "+src.ID, reasons)
	f.opts.Sink.Warn(AgentName, "pdf-unavailable", eventlog.Payload{
		"source_id": src.ID,
		"title":     src.Title,
		"reasons":   attemptReasons(rec.Attempts),
	})
	return Outcome{Record: rec, Err: fail}
}

func attemptReasons(atts []types.DownloadAttempt) []string {
	out := make([]string, len(atts))
	for i, a := range atts {
		out[i] = a.Strategy + ": " + string(a.Outcome)
	}
	return out
}

// outcomeOf maps a strategy error to an attempt outcome.
func outcomeOf(err error) types.Outcome {
	var se *statusErr
	switch {
	case errors.Is(err, ErrNoCandidate):
		return types.OutcomeNotFound
	case errors.As(err, &se):
		return types.OutcomeHTTPStatus
	case failure.Is(err, failure.KindAuthentication), failure.Is(err, failure.KindInvariantViolation):
		return types.OutcomeBlocked
	default:
		return types.OutcomeError
	}
}

// Reasons splits a paper's aggregated failure into per-strategy reasons.
func Reasons(err error) []error {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return multierr.Errors(fe.Err)
	}
	return multierr.Errors(err)
}

// statusErr reports a non-200 response from a lookup service.
type statusErr struct {
	code int
	url  string
}

func (e *statusErr) Error() string { return fmt.Sprintf("HTTP %d from %s", e.code, e.url) }

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultDownloadTimeout}
}

// Deps carries what the standard strategy chain needs. Session may be
// nil, in which case the DBIS strategy is left out.
type Deps struct {
	Client    *http.Client
	Limits    *ratelimit.Set
	Creds     types.Credentials
	Config    types.FetchConfig
	Session   browser.Session
	Tracker   *navigation.Tracker
	Auth      *shibboleth.Authenticator
	Navigator *publisher.Navigator
	Sink      *eventlog.Sink
	Log       *zap.Logger
}

// Chain returns the strategies in their fixed order: open-access
// resolver, CORE aggregator, DBIS browser, landing page.
func Chain(d Deps) []Strategy {
	limit := func(name string) *ratelimit.Limiter {
		if d.Limits == nil {
			return nil
		}
		return d.Limits.For(name)
	}
	out := []Strategy{
		&Unpaywall{Client: d.Client, Email: d.Creds.UnpaywallEmail, Limiter: limit("unpaywall")},
		&Core{Client: d.Client, APIKey: d.Creds.CoreAPIKey, Limiter: limit("core")},
	}
	if d.Session != nil && d.Config.EnableBrowser {
		out = append(out, &DBIS{
			Session:           d.Session,
			Tracker:           d.Tracker,
			Auth:              d.Auth,
			Navigator:         d.Navigator,
			PortalURL:         d.Config.DBISPortalURL,
			NavigationTimeout: d.Config.NavigationTimeout,
			Sink:              d.Sink,
			Log:               d.Log,
		})
	}
	return append(out, &Landing{Client: d.Client})
}
