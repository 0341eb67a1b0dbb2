// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package navigation tracks a browser session's navigation history and
// enforces that the first navigation of every session lands on the DBIS
// portal. The tracker optionally persists its state to a JSON session file
// so separate processes (the CLI and the pipeline) share one session.
package navigation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pdiddy/academic-agent/internal/failure"
)

// MaxHistory caps the recorded navigation history.
const MaxHistory = 50

// dbisDomains are the portal hosts; subdomains of each also count.
var dbisDomains = []string{"dbis.ur.de", "dbis.de", "www.dbis.de"}

// IsDBISDomain reports whether rawURL's host is a DBIS portal host or a
// subdomain of one. Scheme-less input ("dbis.ur.de/...") is accepted.
func IsDBISDomain(rawURL string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return false
	}
	for _, d := range dbisDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		u, err = url.Parse("https://" + raw)
		if err != nil {
			return ""
		}
	}
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}

// Entry is one recorded navigation.
type Entry struct {
	URL              string    `json:"url"`
	Timestamp        time.Time `json:"timestamp"`
	IsDBIS           bool      `json:"is_dbis"`
	NavigationNumber int       `json:"navigation_number"`
}

// Session is the persisted session state.
type Session struct {
	Active          bool      `json:"session_active"`
	StartedFromDBIS bool      `json:"started_from_dbis"`
	Count           int       `json:"navigation_count"`
	History         []Entry   `json:"navigation_history"`
	FirstURL        string    `json:"first_url"`
	CreatedAt       time.Time `json:"created_at"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Status is the outcome of a tracker operation.
type Status string

const (
	StatusStarted Status = "session_started"
	StatusTracked Status = "tracked"
	StatusError   Status = "error"
	StatusReset   Status = "reset"
)

// Result describes the outcome of Track or Reset.
type Result struct {
	Status           Status `json:"status"`
	Message          string `json:"message"`
	NavigationNumber int    `json:"navigation_number,omitempty"`
	IsDBIS           bool   `json:"is_dbis"`
}

// Tracker enforces the DBIS-first rule for one browser session. It is safe
// for concurrent use.
type Tracker struct {
	path string
	now  func() time.Time

	mu sync.Mutex
	s  Session
}

// NewTracker returns a tracker. With a non-empty path, existing state is
// loaded from the file and every change is written back.
func NewTracker(path string) (*Tracker, error) {
	t := &Tracker{path: path, now: time.Now}
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("reading navigation session: %w", err)
	}
	if err := json.Unmarshal(data, &t.s); err != nil {
		return nil, fmt.Errorf("parsing navigation session %s: %w", path, err)
	}
	return t, nil
}

// Track records a navigation to rawURL. While no session is active only a
// DBIS URL is accepted; anything else yields StatusError, an
// InvariantViolation error, and leaves the session inactive.
func (t *Tracker) Track(rawURL string) (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	isDBIS := IsDBISDomain(rawURL)

	if !t.s.Active {
		if !isDBIS {
			err := failure.Newf(failure.KindInvariantViolation, "navigation.Track",
				"first navigation must go to DBIS, got %s", rawURL)
			return Result{
				Status:  StatusError,
				Message: "DBIS-first violation: session must start at the DBIS portal",
				IsDBIS:  false,
			}, err
		}
		t.s = Session{
			Active:          true,
			StartedFromDBIS: true,
			Count:           1,
			History:         []Entry{{URL: rawURL, Timestamp: now, IsDBIS: true, NavigationNumber: 1}},
			FirstURL:        rawURL,
			CreatedAt:       now,
			LastUpdated:     now,
		}
		if err := t.persist(); err != nil {
			return Result{Status: StatusError, Message: err.Error(), IsDBIS: true}, err
		}
		return Result{Status: StatusStarted, Message: "session started at DBIS", NavigationNumber: 1, IsDBIS: true}, nil
	}

	t.s.Count++
	t.s.History = append(t.s.History, Entry{URL: rawURL, Timestamp: now, IsDBIS: isDBIS, NavigationNumber: t.s.Count})
	if len(t.s.History) > MaxHistory {
		// Keep the DBIS origin at index 0 and drop the oldest after it.
		drop := len(t.s.History) - MaxHistory
		t.s.History = append(t.s.History[:1], t.s.History[1+drop:]...)
	}
	t.s.LastUpdated = now
	if err := t.persist(); err != nil {
		return Result{Status: StatusError, Message: err.Error(), IsDBIS: isDBIS}, err
	}
	return Result{Status: StatusTracked, Message: "navigation tracked", NavigationNumber: t.s.Count, IsDBIS: isDBIS}, nil
}

// Hook adapts Track to a browser navigation hook: a rejected navigation
// aborts before the browser moves.
func (t *Tracker) Hook() func(ctx context.Context, rawURL string) error {
	return func(_ context.Context, rawURL string) error {
		_, err := t.Track(rawURL)
		return err
	}
}

// Reset drops all session state.
func (t *Tracker) Reset() (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s = Session{}
	if t.path != "" {
		if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
			return Result{Status: StatusError, Message: err.Error()}, fmt.Errorf("removing navigation session: %w", err)
		}
	}
	return Result{Status: StatusReset, Message: "navigation session reset"}, nil
}

// Status returns a copy of the current session.
func (t *Tracker) Status() Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.s
	s.History = append([]Entry(nil), t.s.History...)
	return s
}

// Active reports whether a DBIS-initiated session is in progress.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s.Active && t.s.StartedFromDBIS
}

func (t *Tracker) persist() error {
	if t.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(t.s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling navigation session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing navigation session: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming navigation session: %w", err)
	}
	return nil
}
