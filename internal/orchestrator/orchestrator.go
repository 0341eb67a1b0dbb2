// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package orchestrator drives a research run through its phases:
// context, query generation, search, dedup and ranking, PDF fetch, quote
// extraction and reporting.
//
// After every phase the run state is checkpointed, the health metrics of
// the phase are checked against the threshold policy and the metrics are
// dumped to the run directory. A critical metric halts the run; the
// checkpoint stays behind so the run can be resumed. The checkpoint is
// deleted when the last phase completes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/academic-agent/internal/checkpoint"
	"github.com/pdiddy/academic-agent/internal/eventlog"
	"github.com/pdiddy/academic-agent/internal/failure"
	"github.com/pdiddy/academic-agent/internal/metrics"
	"github.com/pdiddy/academic-agent/internal/report"
	"github.com/pdiddy/academic-agent/internal/state"
	"github.com/pdiddy/academic-agent/internal/threshold"
	"github.com/pdiddy/academic-agent/pkg/types"
)

// RunIDLayout formats run ids from the start time.
const RunIDLayout = "2006-01-02_15-04-05"

const agentName = "orchestrator"

// Options configures an Orchestrator.
type Options struct {
	// Research is the validated research config of a new run. Resume
	// takes it from the checkpoint instead.
	Research types.ResearchConfig

	// ConfigText is the research config as written by the researcher;
	// it is frozen into config_snapshot.md. When empty the snapshot is
	// rendered from Research.
	ConfigText string

	Engine types.EngineConfig

	// Stages builds the phase workers; required.
	Stages Stages

	// Catalogue records runs and indexes quotes; nil skips it.
	Catalogue *state.Store

	Log *zap.Logger

	// OnMetrics receives the metrics of every execution before its
	// first phase, e.g. to serve them over HTTP.
	OnMetrics func(*metrics.Metrics)

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Orchestrator runs and resumes research runs.
type Orchestrator struct {
	opts Options
	log  *zap.Logger
	now  func() time.Time
}

// Result summarizes a run.
type Result struct {
	RunID  string `json:"run_id"`
	RunDir string `json:"run_dir"`

	// Phase is the last completed phase.
	Phase  Phase  `json:"phase"`
	Status string `json:"status"`

	Candidates int `json:"candidates"`
	Sources    int `json:"sources"`
	PDFs       int `json:"pdfs"`
	Quotes     int `json:"quotes"`

	Health []threshold.Result `json:"health"`
	Files  report.Files       `json:"files"`
}

// HaltError is returned when a health metric reaches its critical
// threshold. The checkpoint of the run is kept.
type HaltError struct {
	Phase   Phase
	Metrics []threshold.Result
}

func (e *HaltError) Error() string {
	msg := fmt.Sprintf("run halted after %s:", e.Phase)
	for _, r := range e.Metrics {
		msg += fmt.Sprintf(" %s=%g (%s)", r.Metric, r.Value, r.Action)
	}
	return msg
}

// New validates opts and returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Stages == nil {
		return nil, failure.Newf(failure.KindFatalConfig, "orchestrator.New", "no stages configured")
	}
	if opts.Engine.RunsDir == "" {
		return nil, failure.Newf(failure.KindFatalConfig, "orchestrator.New", "runs directory is empty")
	}
	o := &Orchestrator{opts: opts, log: eventlog.OrNop(opts.Log), now: opts.Now}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// RunDir returns the directory of runID.
func (o *Orchestrator) RunDir(runID string) string {
	return filepath.Join(o.opts.Engine.RunsDir, runID)
}

// Run starts a new run from phase 0.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	rc := o.opts.Research
	if rc.ResearchQuestion == "" {
		return nil, failure.Newf(failure.KindFatalConfig, "orchestrator.Run", "research config has no question").
			WithAction("load and validate the research config first")
	}
	start := o.now()
	runID := start.Format(RunIDLayout)
	dir := o.RunDir(runID)
	if _, err := os.Stat(dir); err == nil {
		return nil, failure.Newf(failure.KindFatalConfig, "orchestrator.Run", "run directory %s already exists", dir).
			WithAction("wait a second and start again, or resume the existing run")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	st := &runState{
		RunID:     runID,
		Research:  rc,
		StartedAt: start.UTC(),
		Durations: map[string]float64{},
	}
	return o.execute(ctx, dir, st, PhaseContext)
}

// Resume continues runID after the phase saved in its checkpoint.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (*Result, error) {
	dir := o.RunDir(runID)
	if _, err := os.Stat(dir); err != nil {
		return nil, failure.Newf(failure.KindFatalConfig, "orchestrator.Resume", "run %s not found in %s", runID, o.opts.Engine.RunsDir)
	}
	cp := checkpoint.New(dir, o.opts.Engine.CheckpointInterval)
	var st runState
	meta, err := cp.Load(&st)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint of %s: %w", runID, err)
	}
	if meta == nil {
		return nil, failure.Newf(failure.KindFatalConfig, "orchestrator.Resume", "run %s has no checkpoint", runID).
			WithAction("the run either completed or never finished phase 0; start a new run")
	}
	if st.Durations == nil {
		st.Durations = map[string]float64{}
	}
	st.RunID = runID
	o.log.Info("resuming run", zap.String("run_id", runID), zap.String("after", Phase(meta.Phase).String()))
	return o.execute(ctx, dir, &st, Phase(meta.Phase)+1)
}

// execute runs phases from..LastPhase of one run.
func (o *Orchestrator) execute(ctx context.Context, dir string, st *runState, from Phase) (*Result, error) {
	sink, err := eventlog.Open(dir, st.RunID)
	if err != nil {
		return nil, err
	}
	defer sink.Close()

	m := metrics.New(st.RunID)
	if o.opts.OnMetrics != nil {
		o.opts.OnMetrics(m)
	}
	env := Env{
		RunID:    st.RunID,
		RunDir:   dir,
		Research: st.Research,
		Engine:   o.opts.Engine,
		Sink:     sink,
		Log:      o.log.With(zap.String("run_id", st.RunID)),
		Metrics:  m,
	}
	kit, err := o.opts.Stages(ctx, env)
	if err != nil {
		return nil, err
	}
	defer kit.Close()

	r := &run{
		o:       o,
		env:     env,
		kit:     kit,
		st:      st,
		cp:      checkpoint.New(dir, o.opts.Engine.CheckpointInterval),
		monitor: threshold.NewMonitor(env.Log),
		res:     &Result{RunID: st.RunID, RunDir: dir, Phase: from - 1, Status: state.StatusRunning},
	}
	event := "run-started"
	if from > PhaseContext {
		event = "run-resumed"
	}
	sink.Emit(agentName, event, eventlog.Payload{"question": st.Research.ResearchQuestion, "from_phase": from.String()})

	for p := from; p <= LastPhase; p++ {
		if err := ctx.Err(); err != nil {
			return r.stop(ctx, state.StatusCancelled, err)
		}
		if err := r.phase(ctx, p); err != nil {
			return r.stop(ctx, r.statusFor(ctx, err), err)
		}
	}

	if err := r.cp.Delete(); err != nil {
		o.log.Warn("checkpoint not deleted", zap.Error(err))
	}
	r.res.Status = state.StatusCompleted
	r.record(ctx, nil)
	sink.Emit(agentName, "run-completed", eventlog.Payload{
		"sources": r.res.Sources,
		"pdfs":    r.res.PDFs,
		"quotes":  r.res.Quotes,
	})
	return r.res, nil
}

// run is the state of one execution.
type run struct {
	o       *Orchestrator
	env     Env
	kit     Toolkit
	st      *runState
	cp      *checkpoint.Checkpointer
	monitor *threshold.Monitor
	res     *Result
}

// phase runs p, then checkpoints, checks health and dumps metrics.
func (r *run) phase(ctx context.Context, p Phase) error {
	sink := r.env.Sink
	sink.Emit(agentName, "phase-started", eventlog.Payload{"phase": p.String(), "index": int(p)})
	r.env.Log.Info("phase started", zap.String("phase", p.String()))

	start := r.o.now()
	if err := r.work(ctx, p); err != nil {
		return err
	}
	d := r.o.now().Sub(start)
	r.st.Durations[p.String()] = d.Seconds()
	r.st.Elapsed += d

	if err := r.cp.Save(int(p), r.st); err != nil {
		return fmt.Errorf("checkpointing %s: %w", p, err)
	}
	r.res.Phase = p
	r.sync()

	health := r.health(p, d)
	r.res.Health = append(r.res.Health, health...)
	r.env.Metrics.RecordPhase(int(p), p.String(), d)
	for _, h := range health {
		r.env.Metrics.RecordHealth(h)
	}
	if err := r.env.Metrics.WriteFile(filepath.Join(r.env.RunDir, metrics.FileName)); err != nil {
		r.env.Log.Warn("metrics not written", zap.Error(err))
	}
	r.record(ctx, nil)
	sink.Emit(agentName, "phase-completed", eventlog.Payload{
		"phase":       p.String(),
		"index":       int(p),
		"duration_ms": d.Milliseconds(),
		"status":      string(threshold.Worst(health)),
	})

	if threshold.Worst(health) == threshold.Critical {
		var critical []threshold.Result
		for _, h := range health {
			if h.Status == threshold.Critical {
				critical = append(critical, h)
			}
		}
		return &HaltError{Phase: p, Metrics: critical}
	}
	return nil
}

// health checks the metrics that phase p makes available.
func (r *run) health(p Phase, d time.Duration) []threshold.Result {
	values := []struct {
		metric string
		value  float64
	}{
		{threshold.PhaseDuration, d.Seconds()},
		{threshold.BudgetPercentUsed, r.budgetPercent()},
	}
	add := func(metric string, v float64) {
		values = append(values, struct {
			metric string
			value  float64
		}{metric, v})
	}
	switch p {
	case PhaseSearch:
		add(threshold.CandidatesCollected, float64(len(r.st.Candidates)))
		add(threshold.ConsecutiveEmptySearches, float64(r.st.EmptySearches))
	case PhaseRank:
		add(threshold.CandidatesAfterScreening, float64(r.st.Screened))
	case PhaseFetch:
		add(threshold.PDFsDownloaded, float64(r.st.downloaded()))
	case PhaseQuotes:
		add(threshold.QuotesExtracted, float64(len(r.st.Quotes)))
	case PhaseReport:
		add(threshold.IterationDuration, r.st.iterationSeconds())
	}

	out := make([]threshold.Result, 0, len(values))
	for _, v := range values {
		res := r.monitor.Check(v.metric, v.value)
		out = append(out, res)
		payload := eventlog.Payload{
			"metric": res.Metric,
			"value":  res.Value,
			"status": string(res.Status),
			"phase":  p.String(),
		}
		switch res.Status {
		case threshold.Critical:
			payload["action"] = res.Action
			r.env.Sink.Error(agentName, "threshold-critical", payload)
		case threshold.Warning:
			payload["action"] = res.Action
			r.env.Sink.Warn(agentName, "threshold-warning", payload)
		}
	}
	return out
}

func (r *run) budgetPercent() float64 {
	budget := r.o.opts.Engine.RunBudget
	if budget <= 0 {
		return 0
	}
	return 100 * r.st.Elapsed.Seconds() / budget.Seconds()
}

// sync copies the run counts into the result.
func (r *run) sync() {
	r.res.Candidates = len(r.st.Candidates)
	r.res.Sources = len(r.st.Sources)
	r.res.PDFs = r.st.downloaded()
	r.res.Quotes = len(r.st.Quotes)
}

func (r *run) statusFor(ctx context.Context, err error) string {
	var halt *HaltError
	switch {
	case errors.As(err, &halt):
		return state.StatusHalted
	case ctx.Err() != nil, errors.Is(err, context.Canceled):
		return state.StatusCancelled
	default:
		return state.StatusFailed
	}
}

// stop ends the run with status, keeping the checkpoint for resume.
func (r *run) stop(ctx context.Context, status string, err error) (*Result, error) {
	r.res.Status = status
	payload := eventlog.Payload{
		"status": status,
		"phase":  r.res.Phase.String(),
		"error":  err.Error(),
	}
	switch status {
	case state.StatusCancelled:
		r.env.Sink.Warn(agentName, "run-cancelled", payload)
	case state.StatusHalted:
		r.env.Sink.Error(agentName, "run-halted", payload)
	default:
		payload["kind"] = failure.KindOf(err).String()
		payload["severity"] = string(threshold.Critical)
		r.env.Sink.Error(agentName, "phase-failed", payload)
	}
	r.record(context.WithoutCancel(ctx), err)
	return r.res, err
}

// record mirrors the run into the catalogue.
func (r *run) record(ctx context.Context, runErr error) {
	cat := r.o.opts.Catalogue
	if cat == nil {
		return
	}
	row := state.Run{
		ID:         r.st.RunID,
		Question:   r.st.Research.ResearchQuestion,
		Phase:      int(r.res.Phase),
		PhaseName:  r.res.Phase.String(),
		Status:     r.res.Status,
		StartedAt:  r.st.StartedAt,
		Candidates: r.res.Candidates,
		Sources:    r.res.Sources,
		PDFs:       r.res.PDFs,
		Quotes:     r.res.Quotes,
	}
	if r.res.Status != state.StatusRunning {
		t := r.o.now().UTC()
		row.FinishedAt = &t
	}
	if runErr != nil {
		row.Error = runErr.Error()
	}
	if err := cat.Save(ctx, row); err != nil {
		r.env.Log.Warn("run catalogue not updated", zap.Error(err))
	}
}
