// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratelimit enforces per back-end request rates and daily caps.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pdiddy/academic-agent/pkg/types"
)

// ErrDailyCap is returned once a back-end has used its daily allowance.
var ErrDailyCap = errors.New("daily request cap reached")

// DefaultLimits are the published polite rates of each back-end.
var DefaultLimits = map[string]types.BackendLimit{
	"crossref":         {RPS: 3},
	"openalex":         {RPS: 10, Daily: 100000},
	"semantic_scholar": {RPS: 1},
	"pubmed":           {RPS: 3},
	"arxiv":            {RPS: 1},
	"dbis":             {RPS: 1},
	"unpaywall":        {RPS: 10, Daily: 100000},
	"core":             {RPS: 0.15},
}

// Limiter throttles one back-end.
type Limiter struct {
	name  string
	lim   *rate.Limiter
	daily int

	mu    sync.Mutex
	day   string
	count int
	now   func() time.Time
}

// New returns a limiter allowing policy.RPS requests per second with a burst
// of one and at most policy.Daily requests per UTC day (0 is unlimited).
// A non-positive RPS disables throttling.
func New(name string, policy types.BackendLimit) *Limiter {
	limit := rate.Inf
	if policy.RPS > 0 {
		limit = rate.Limit(policy.RPS)
	}
	return &Limiter{name: name, lim: rate.NewLimiter(limit, 1), daily: policy.Daily, now: time.Now}
}

// Wait blocks until a request may proceed and counts it against the daily cap.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.reserveDaily(); err != nil {
		return err
	}
	return l.lim.Wait(ctx)
}

func (l *Limiter) reserveDaily() error {
	if l.daily <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	today := l.now().UTC().Format(time.DateOnly)
	if today != l.day {
		l.day, l.count = today, 0
	}
	if l.count >= l.daily {
		return fmt.Errorf("%s: %w (%d)", l.name, ErrDailyCap, l.daily)
	}
	l.count++
	return nil
}

// Used returns the requests counted today.
func (l *Limiter) Used() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.day != l.now().UTC().Format(time.DateOnly) {
		return 0
	}
	return l.count
}

// Set holds one Limiter per back-end.
type Set struct {
	mu       sync.Mutex
	limits   map[string]types.BackendLimit
	limiters map[string]*Limiter
}

// NewSet returns a Set using overrides on top of DefaultLimits.
func NewSet(overrides map[string]types.BackendLimit) *Set {
	limits := make(map[string]types.BackendLimit, len(DefaultLimits)+len(overrides))
	for k, v := range DefaultLimits {
		limits[k] = v
	}
	for k, v := range overrides {
		limits[k] = v
	}
	return &Set{limits: limits, limiters: map[string]*Limiter{}}
}

// For returns the limiter for a back-end, creating it on first use.
// Unknown back-ends are not throttled.
func (s *Set) For(name string) *Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[name]; ok {
		return l
	}
	l := New(name, s.limits[name])
	s.limiters[name] = l
	return l
}
