// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/academic-agent/internal/config"
	"github.com/pdiddy/academic-agent/internal/eventlog"
	"github.com/pdiddy/academic-agent/internal/failure"
	"github.com/pdiddy/academic-agent/internal/fetch"
	"github.com/pdiddy/academic-agent/internal/querygen"
	"github.com/pdiddy/academic-agent/internal/quotes"
	"github.com/pdiddy/academic-agent/internal/rank"
	"github.com/pdiddy/academic-agent/internal/report"
	"github.com/pdiddy/academic-agent/internal/search"
	"github.com/pdiddy/academic-agent/pkg/types"
)

// Run directory artifacts.
const (
	SnapshotFile   = "config_snapshot.md"
	CandidatesFile = "candidates.json"
	RankedFile     = "ranked_sources.json"
)

// runState is the checkpointed state of a run. Each phase reads the
// output of the previous ones from here.
type runState struct {
	RunID     string               `json:"run_id"`
	Research  types.ResearchConfig `json:"research"`
	StartedAt time.Time            `json:"started_at"`

	// Elapsed is the time spent inside phases, across resumes.
	Elapsed   time.Duration      `json:"elapsed_ns"`
	Durations map[string]float64 `json:"phase_seconds"`

	Backends      []string           `json:"backends,omitempty"`
	DBISDatabases []string           `json:"dbis_databases,omitempty"`
	Bundle        *types.QueryBundle `json:"query_bundle,omitempty"`

	Candidates    []types.Candidate `json:"candidates,omitempty"`
	EmptySearches int               `json:"consecutive_empty_searches"`

	Screened  int                    `json:"candidates_after_screening"`
	Sources   []types.RankedSource   `json:"sources,omitempty"`
	Downloads []types.DownloadRecord `json:"downloads,omitempty"`
	Quotes    []types.Quote          `json:"quotes,omitempty"`
}

func (s *runState) downloaded() int {
	n := 0
	for _, d := range s.Downloads {
		if d.Succeeded() {
			n++
		}
	}
	return n
}

// iterationSeconds is the time of one research iteration: search through
// quote extraction.
func (s *runState) iterationSeconds() float64 {
	var total float64
	for _, p := range []Phase{PhaseSearch, PhaseRank, PhaseFetch, PhaseQuotes} {
		total += s.Durations[p.String()]
	}
	return total
}

// work runs the body of phase p.
func (r *run) work(ctx context.Context, p Phase) error {
	switch p {
	case PhaseContext:
		return r.snapshot()
	case PhaseQueryGen:
		return r.generate(ctx)
	case PhaseSearch:
		return r.searchCycle(ctx)
	case PhaseRank:
		return r.rankSources(ctx)
	case PhaseFetch:
		return r.fetchPDFs(ctx)
	case PhaseQuotes:
		return r.extractQuotes(ctx)
	case PhaseReport:
		return r.writeReport()
	}
	return fmt.Errorf("unknown phase %d", int(p))
}

func (r *run) path(name string) string { return filepath.Join(r.env.RunDir, name) }

// snapshot freezes the research config into the run directory.
func (r *run) snapshot() error {
	text := r.o.opts.ConfigText
	if text == "" {
		text = config.Format(r.st.Research)
	}
	if err := writeFile(r.path(SnapshotFile), []byte(text)); err != nil {
		return err
	}
	if err := os.MkdirAll(r.path("pdfs"), 0o755); err != nil {
		return fmt.Errorf("creating pdfs directory: %w", err)
	}
	r.st.Backends, r.st.DBISDatabases = search.PlanDatabases(r.st.Research.PrimaryDatabases)
	r.env.Sink.Emit(agentName, "context-ready", eventlog.Payload{
		"project":   r.st.Research.ProjectTitle,
		"backends":  r.st.Backends,
		"databases": r.st.DBISDatabases,
	})
	return nil
}

func (r *run) generate(ctx context.Context) error {
	rc := r.st.Research
	res, err := r.kit.Queries().Generate(ctx, rc.ResearchQuestion, r.st.Backends, rc.Clusters)
	if err != nil {
		return err
	}
	r.st.Bundle = &res.Bundle
	return querygen.WriteQueryFile(r.path(querygen.FileName), res)
}

// bundle prefers queries.yaml so hand-edited queries take effect on resume.
func (r *run) bundle() types.QueryBundle {
	if qf, err := querygen.ReadQueryFile(r.path(querygen.FileName)); err == nil {
		return qf.Bundle()
	}
	if r.st.Bundle != nil {
		return *r.st.Bundle
	}
	return types.QueryBundle{Question: r.st.Research.ResearchQuestion}
}

func (r *run) searchCycle(ctx context.Context) error {
	s, err := r.kit.Searcher(ctx, r.st.Backends)
	if err != nil {
		return err
	}
	eng := r.o.opts.Engine.Search
	res, err := s.Search(ctx, r.bundle(), search.Options{
		MaxResults: eng.MaxResults,
		MinYear:    r.st.Research.MinYear,
		UserAgent:  eng.UserAgent,
		Databases:  r.st.DBISDatabases,
	})
	if err != nil {
		return err
	}
	r.st.Candidates = res.Candidates
	if len(res.Candidates) == 0 {
		r.st.EmptySearches++
	} else {
		r.st.EmptySearches = 0
	}
	r.env.Metrics.RecordSearch(res.Counts, res.Failed)
	return writeJSON(r.path(CandidatesFile), res)
}

func (r *run) rankSources(ctx context.Context) error {
	opts := rank.FromConfig(r.st.Research, r.o.opts.Engine.Ranking)
	opts.Enrich = r.kit.Enricher()
	res, err := rank.Rank(ctx, r.st.Candidates, opts)
	if err != nil {
		return err
	}
	if err := rank.CheckUnique(res.Sources); err != nil {
		return failure.New(failure.KindInvariantViolation, "orchestrator.rank", err)
	}
	r.st.Screened = res.Screened
	r.st.Sources = res.Sources
	r.env.Sink.Emit("ranking", "sources-ranked", eventlog.Payload{
		"collected": res.Collected,
		"unique":    res.Unique,
		"screened":  res.Screened,
		"selected":  len(res.Sources),
	})
	return writeJSON(r.path(RankedFile), res.Sources)
}

func (r *run) fetchPDFs(ctx context.Context) error {
	f, err := r.kit.Fetcher(ctx)
	if err != nil {
		return err
	}
	res, err := f.FetchAll(ctx, r.st.Sources)
	if err != nil {
		return err
	}
	records := res.Records()
	if err := fetch.Verify(records); err != nil {
		return failure.New(failure.KindInvariantViolation, "orchestrator.fetch", err).
			WithAction("resume the run to download the missing PDFs again")
	}
	r.st.Downloads = records
	r.env.Metrics.RecordDownloads(records, res.SuccessRate())
	return nil
}

func (r *run) extractQuotes(ctx context.Context) error {
	byID := make(map[string]types.RankedSource, len(r.st.Sources))
	for _, s := range r.st.Sources {
		byID[s.ID] = s
	}
	var papers []quotes.Paper
	for _, d := range r.st.Downloads {
		src, ok := byID[d.SourceID]
		if !ok || !d.Succeeded() {
			continue
		}
		papers = append(papers, quotes.Paper{Source: src, PDFPath: d.Artifact.Path})
	}

	x, err := r.kit.Quotes(ctx)
	if err != nil {
		return err
	}
	res, err := x.ExtractAll(ctx, papers)
	if err != nil {
		return err
	}
	r.st.Quotes = res.Quotes
	r.env.Metrics.Quotes.Add(float64(len(res.Quotes)))
	if len(res.Unverified) > 0 {
		r.env.Log.Warn("quotes not checked against PDF text", zap.Strings("sources", res.Unverified))
	}
	if len(res.Rejected) > 0 {
		r.env.Log.Warn("PDFs withheld from the quote extractor", zap.Strings("sources", res.Rejected))
	}
	if err := quotes.Write(r.path(quotes.FileName), r.st.Research.ResearchQuestion, res.Quotes); err != nil {
		return err
	}
	if cat := r.o.opts.Catalogue; cat != nil {
		if err := cat.IndexQuotes(ctx, r.st.RunID, res.Quotes); err != nil {
			r.env.Log.Warn("quotes not indexed", zap.Error(err))
		}
	}
	return nil
}

func (r *run) writeReport() error {
	files, err := report.WriteAll(r.env.RunDir, r.st.Research.ResearchQuestion, r.st.Sources, r.st.Quotes)
	if err != nil {
		return err
	}
	r.res.Files = files
	r.env.Sink.Emit("reporting", "report-written", eventlog.Payload{
		"bibliography":  files.Bibliography,
		"quote_library": files.Library,
		"sources":       len(r.st.Sources),
		"quotes":        len(r.st.Quotes),
	})
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	return writeFile(path, data)
}

// writeFile replaces path through a temp file and rename.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", filepath.Base(path), err)
	}
	return nil
}
