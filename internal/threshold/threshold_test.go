// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package threshold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		metric string
		value  float64
		want   Status
	}{
		{PDFsDownloaded, 7, Critical},
		{PDFsDownloaded, 8, Critical},
		{PDFsDownloaded, 10, Warning},
		{PDFsDownloaded, 12, Warning},
		{PDFsDownloaded, 16, OK},
		{CandidatesCollected, 10, Critical},
		{CandidatesCollected, 29, Warning},
		{CandidatesCollected, 120, OK},
		{PhaseDuration, 7200, Critical},
		{PhaseDuration, 6000, Warning},
		{PhaseDuration, 3000, OK},
		{ConsecutiveEmptySearches, 1, OK},
		{ConsecutiveEmptySearches, 2, Warning},
		{ConsecutiveEmptySearches, 3, Critical},
		{BudgetPercentUsed, 80, Warning},
		{BudgetPercentUsed, 95, Critical},
		{IterationDuration, 1799, OK},
		{"no_such_metric", -1, OK},
	}
	for _, tt := range tests {
		got := Check(tt.metric, tt.value)
		if got.Status != tt.want {
			t.Errorf("Check(%q, %v) = %s, want %s", tt.metric, tt.value, got.Status, tt.want)
		}
	}
}

func TestClassify_BoundaryProperty(t *testing.T) {
	low := Policy{Warning: 12, Critical: 8, Direction: Low}
	high := Policy{Warning: 80, Critical: 95, Direction: High}
	for v := -5.0; v <= 120; v += 0.5 {
		var wantLow Status
		switch {
		case v <= low.Critical:
			wantLow = Critical
		case v <= low.Warning:
			wantLow = Warning
		default:
			wantLow = OK
		}
		assert.Equal(t, wantLow, Classify(low, v), "low v=%v", v)

		var wantHigh Status
		switch {
		case v >= high.Critical:
			wantHigh = Critical
		case v >= high.Warning:
			wantHigh = Warning
		default:
			wantHigh = OK
		}
		assert.Equal(t, wantHigh, Classify(high, v), "high v=%v", v)
	}
}

func TestCheck_Actions(t *testing.T) {
	assert.Equal(t, "Immediate intervention required", Check(PDFsDownloaded, 1).Action)
	assert.Equal(t, "Review and consider adjustments", Check(PDFsDownloaded, 11).Action)
	assert.Equal(t, "Stop and review", Check(BudgetPercentUsed, 99).Action)
	assert.Equal(t, "Monitor closely", Check(BudgetPercentUsed, 85).Action)
	assert.Empty(t, Check(BudgetPercentUsed, 10).Action)

	r := Check("unknown", 5)
	assert.False(t, r.Known)
}

func TestStatusExitCode(t *testing.T) {
	assert.Equal(t, 0, OK.ExitCode())
	assert.Equal(t, 1, Warning.ExitCode())
	assert.Equal(t, 2, Critical.ExitCode())
}

func TestMonitor_LogsAtLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := NewMonitor(zap.New(core))

	m.Check(PDFsDownloaded, 16)
	m.Check(PDFsDownloaded, 10)
	m.Check(PDFsDownloaded, 7)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "pdfs_downloaded CRITICAL threshold", entries[2].Message)
	assert.Equal(t, "Immediate intervention required", entries[2].ContextMap()["action"])
}

func TestWorst(t *testing.T) {
	assert.Equal(t, OK, Worst(nil))
	assert.Equal(t, Warning, Worst([]Result{{Status: OK}, {Status: Warning}}))
	assert.Equal(t, Critical, Worst([]Result{{Status: Warning}, {Status: Critical}, {Status: OK}}))
}

func TestMetricsSorted(t *testing.T) {
	names := Metrics()
	require.Len(t, names, 8)
	assert.IsIncreasing(t, names)
	_, ok := Lookup(QuotesExtracted)
	assert.True(t, ok)
}
