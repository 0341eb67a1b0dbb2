// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package threshold classifies run health metrics against a static policy
// table. A metric with direction "low" alerts when its value falls to or
// below a threshold; "high" alerts at or above it. Unknown metrics are ok.
package threshold

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Direction says which side of a threshold is unhealthy.
type Direction string

const (
	Low  Direction = "low"
	High Direction = "high"
)

// Status is the classification of a metric value.
type Status string

const (
	OK       Status = "ok"
	Warning  Status = "warning"
	Critical Status = "critical"
)

// ExitCode maps a status to the CLI exit code: 0 ok, 1 warning, 2 critical.
func (s Status) ExitCode() int {
	switch s {
	case Critical:
		return 2
	case Warning:
		return 1
	default:
		return 0
	}
}

// Policy is the threshold definition for one metric. NormalMin and
// NormalMax document the expected range; only Warning and Critical take
// part in classification.
type Policy struct {
	NormalMin *float64  `json:"normal_min,omitempty"`
	NormalMax *float64  `json:"normal_max,omitempty"`
	Warning   float64   `json:"warning"`
	Critical  float64   `json:"critical"`
	Direction Direction `json:"direction"`
}

func f(v float64) *float64 { return &v }

// Metric names evaluated by the orchestrator.
const (
	CandidatesCollected      = "candidates_collected"
	PhaseDuration            = "phase_duration"
	CandidatesAfterScreening = "candidates_after_screening"
	PDFsDownloaded           = "pdfs_downloaded"
	QuotesExtracted          = "quotes_extracted"
	ConsecutiveEmptySearches = "consecutive_empty_searches"
	BudgetPercentUsed        = "budget_percent_used"
	IterationDuration        = "iteration_duration"
)

// policies is the read-only policy table. Durations are in seconds.
var policies = map[string]Policy{
	CandidatesCollected:      {NormalMin: f(80), NormalMax: f(150), Warning: 30, Critical: 10, Direction: Low},
	PhaseDuration:            {NormalMin: f(1800), NormalMax: f(3600), Warning: 5400, Critical: 7200, Direction: High},
	CandidatesAfterScreening: {NormalMin: f(25), NormalMax: f(40), Warning: 15, Critical: 8, Direction: Low},
	PDFsDownloaded:           {NormalMin: f(15), NormalMax: f(18), Warning: 12, Critical: 8, Direction: Low},
	QuotesExtracted:          {NormalMin: f(35), NormalMax: f(50), Warning: 20, Critical: 10, Direction: Low},
	ConsecutiveEmptySearches: {NormalMax: f(1), Warning: 2, Critical: 3, Direction: High},
	BudgetPercentUsed:        {NormalMax: f(80), Warning: 80, Critical: 95, Direction: High},
	IterationDuration:        {NormalMin: f(600), NormalMax: f(1200), Warning: 1800, Critical: 2400, Direction: High},
}

// Lookup returns the policy for metric.
func Lookup(metric string) (Policy, bool) {
	p, ok := policies[metric]
	return p, ok
}

// Metrics lists the metric names with a policy, sorted.
func Metrics() []string {
	names := make([]string, 0, len(policies))
	for n := range policies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Classify applies p to v.
func Classify(p Policy, v float64) Status {
	switch p.Direction {
	case Low:
		if v <= p.Critical {
			return Critical
		}
		if v <= p.Warning {
			return Warning
		}
	case High:
		if v >= p.Critical {
			return Critical
		}
		if v >= p.Warning {
			return Warning
		}
	}
	return OK
}

// Result is the outcome of checking one metric value.
type Result struct {
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Status    Status    `json:"status"`
	Threshold float64   `json:"threshold,omitempty"`
	Direction Direction `json:"direction,omitempty"`
	Action    string    `json:"action,omitempty"`
	Known     bool      `json:"known"`
}

// Message renders a one-line description of the result.
func (r Result) Message() string {
	switch r.Status {
	case Critical:
		if r.Direction == High {
			return fmt.Sprintf("%s CRITICAL threshold exceeded", r.Metric)
		}
		return fmt.Sprintf("%s CRITICAL threshold", r.Metric)
	case Warning:
		if r.Direction == High {
			return fmt.Sprintf("%s warning threshold exceeded", r.Metric)
		}
		return fmt.Sprintf("%s warning threshold", r.Metric)
	default:
		return fmt.Sprintf("%s ok", r.Metric)
	}
}

func action(d Direction, s Status) string {
	switch {
	case d == Low && s == Critical:
		return "Immediate intervention required"
	case d == Low && s == Warning:
		return "Review and consider adjustments"
	case d == High && s == Critical:
		return "Stop and review"
	case d == High && s == Warning:
		return "Monitor closely"
	}
	return ""
}

// Check classifies value for metric against the policy table.
func Check(metric string, value float64) Result {
	p, ok := policies[metric]
	if !ok {
		return Result{Metric: metric, Value: value, Status: OK}
	}
	s := Classify(p, value)
	r := Result{Metric: metric, Value: value, Status: s, Direction: p.Direction, Known: true}
	switch s {
	case Critical:
		r.Threshold = p.Critical
	case Warning:
		r.Threshold = p.Warning
	}
	r.Action = action(p.Direction, s)
	return r
}

// Monitor checks metrics and logs non-ok results.
type Monitor struct {
	log *zap.Logger
}

// NewMonitor returns a Monitor logging to log (nil disables logging).
func NewMonitor(log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{log: log}
}

// Check classifies value and logs a warning or error entry with the
// recommended action when the status is not ok.
func (m *Monitor) Check(metric string, value float64) Result {
	r := Check(metric, value)
	lvl := zapcore.DebugLevel
	switch r.Status {
	case Warning:
		lvl = zapcore.WarnLevel
	case Critical:
		lvl = zapcore.ErrorLevel
	}
	if ce := m.log.Check(lvl, r.Message()); ce != nil {
		ce.Write(
			zap.String("metric", r.Metric),
			zap.Float64("value", r.Value),
			zap.Float64("threshold", r.Threshold),
			zap.String("status", string(r.Status)),
			zap.String("action", r.Action),
		)
	}
	return r
}

// Worst returns the most severe status among results.
func Worst(results []Result) Status {
	worst := OK
	for _, r := range results {
		switch {
		case r.Status == Critical:
			return Critical
		case r.Status == Warning:
			worst = Warning
		}
	}
	return worst
}
