// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/academic-agent/pkg/types"
)

func TestLimiter_DailyCap(t *testing.T) {
	l := New("openalex", types.BackendLimit{Daily: 2})
	day := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return day }
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))
	err := l.Wait(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDailyCap))
	assert.Equal(t, 2, l.Used())

	// Counter resets on the next UTC day.
	day = day.Add(24 * time.Hour)
	assert.Equal(t, 0, l.Used())
	require.NoError(t, l.Wait(ctx))
	assert.Equal(t, 1, l.Used())
}

func TestLimiter_Throttles(t *testing.T) {
	l := New("x", types.BackendLimit{RPS: 20})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(ctx))
	}
	// Burst 1 at 20/s: the 2nd and 3rd calls wait ~50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_ContextCancel(t *testing.T) {
	l := New("x", types.BackendLimit{RPS: 0.001})
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx))
}

func TestSet(t *testing.T) {
	s := NewSet(map[string]types.BackendLimit{"crossref": {RPS: 5, Daily: 1}})
	assert.Same(t, s.For("crossref"), s.For("crossref"))
	assert.Equal(t, 1, s.For("crossref").daily)
	assert.Equal(t, 100000, s.For("openalex").daily)

	// Unknown back-ends are not throttled.
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		require.NoError(t, s.For("other").Wait(ctx))
	}
}
