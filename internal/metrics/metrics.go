// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics holds the prometheus registry of a run. The orchestrator
// records phase timings, health metric values and their threshold status,
// search and download counters; the registry is dumped to metrics.prom
// after every phase and can be served over HTTP while a run is active.
package metrics

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pdiddy/academic-agent/internal/threshold"
	"github.com/pdiddy/academic-agent/pkg/types"
)

// FileName is the metrics dump inside a run directory.
const FileName = "metrics.prom"

const namespace = "academic_agent"

// Metrics is the metric set of one run. Each run gets its own registry so
// runs in the same process never share series.
type Metrics struct {
	reg *prometheus.Registry

	Phase         prometheus.Gauge
	PhaseDuration *prometheus.GaugeVec
	Health        *prometheus.GaugeVec
	HealthStatus  *prometheus.GaugeVec

	SearchCandidates *prometheus.CounterVec
	BackendFailures  *prometheus.CounterVec
	Downloads        *prometheus.CounterVec
	DownloadRate     prometheus.Gauge
	Quotes           prometheus.Counter
	AgentSpawns      *prometheus.CounterVec
}

// New returns a metric set for runID registered on a fresh registry.
func New(runID string) *Metrics {
	reg := prometheus.NewRegistry()
	auto := promauto.With(reg)
	labels := prometheus.Labels{"run_id": runID}

	return &Metrics{
		reg: reg,
		Phase: auto.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "phase",
			Help:        "Index of the last completed phase",
			ConstLabels: labels,
		}),
		PhaseDuration: auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "phase_duration_seconds",
			Help:        "Wall time spent in each phase",
			ConstLabels: labels,
		}, []string{"phase"}),
		Health: auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "health_value",
			Help:        "Last value of each health metric",
			ConstLabels: labels,
		}, []string{"metric"}),
		HealthStatus: auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "health_status",
			Help:        "Threshold status of each health metric (0 ok, 1 warning, 2 critical)",
			ConstLabels: labels,
		}, []string{"metric"}),
		SearchCandidates: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "search_candidates_total",
			Help:        "Candidates returned per back-end",
			ConstLabels: labels,
		}, []string{"backend"}),
		BackendFailures: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "search_backend_failures_total",
			Help:        "Back-ends excluded from a search cycle",
			ConstLabels: labels,
		}, []string{"backend"}),
		Downloads: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "download_attempts_total",
			Help:        "PDF download attempts by strategy and outcome",
			ConstLabels: labels,
		}, []string{"strategy", "outcome"}),
		DownloadRate: auto.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "download_success_ratio",
			Help:        "Share of selected papers with a PDF on disk",
			ConstLabels: labels,
		}),
		Quotes: auto.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "quotes_extracted_total",
			Help:        "Verified quotes extracted",
			ConstLabels: labels,
		}),
		AgentSpawns: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "agent_spawns_total",
			Help:        "Sub-agent spawns by type and model",
			ConstLabels: labels,
		}, []string{"agent_type", "model"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// RecordPhase marks phase as completed after d.
func (m *Metrics) RecordPhase(phase int, name string, d time.Duration) {
	m.Phase.Set(float64(phase))
	m.PhaseDuration.WithLabelValues(name).Set(d.Seconds())
}

// RecordHealth stores a threshold result.
func (m *Metrics) RecordHealth(r threshold.Result) {
	m.Health.WithLabelValues(r.Metric).Set(r.Value)
	m.HealthStatus.WithLabelValues(r.Metric).Set(float64(r.Status.ExitCode()))
}

// RecordSearch adds the per-back-end counts of one search cycle.
func (m *Metrics) RecordSearch(counts map[string]int, failed map[string]string) {
	for backend, n := range counts {
		m.SearchCandidates.WithLabelValues(backend).Add(float64(n))
	}
	for backend := range failed {
		m.BackendFailures.WithLabelValues(backend).Inc()
	}
}

// RecordDownloads counts every attempt in records and sets the success
// ratio of the fetch phase.
func (m *Metrics) RecordDownloads(records []types.DownloadRecord, successRate float64) {
	for _, rec := range records {
		for _, a := range rec.Attempts {
			m.Downloads.WithLabelValues(a.Strategy, string(a.Outcome)).Inc()
		}
	}
	m.DownloadRate.Set(successRate)
}

// RecordAgent counts one spawn of agentType answered by model.
func (m *Metrics) RecordAgent(agentType, model string) {
	m.AgentSpawns.WithLabelValues(agentType, model).Inc()
}

// WriteFile dumps the registry in the text exposition format to path.
func (m *Metrics) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
