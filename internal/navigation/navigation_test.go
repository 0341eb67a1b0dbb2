// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package navigation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/academic-agent/internal/browser"
	"github.com/pdiddy/academic-agent/internal/browser/browsertest"
	"github.com/pdiddy/academic-agent/internal/failure"
)

func TestIsDBISDomain(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://dbis.ur.de/dbinfo/fachliste.php", true},
		{"https://dbis.de/", true},
		{"https://www.dbis.de/x", true},
		{"https://sub.dbis.ur.de/x", true},
		{"http://DBIS.UR.DE:8080/x", true},
		{"dbis.ur.de/fachliste", true},
		{"https://ieeexplore.ieee.org/document/1", false},
		{"https://notdbis.de/", false},
		{"https://dbis.de.evil.com/", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsDBISDomain(tt.url); got != tt.want {
			t.Errorf("IsDBISDomain(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestTrack_RejectsNonDBISFirst(t *testing.T) {
	tr, err := NewTracker("")
	require.NoError(t, err)

	res, err := tr.Track("https://ieeexplore.ieee.org/document/123")
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindInvariantViolation))
	assert.Equal(t, StatusError, res.Status)
	assert.False(t, tr.Active())
	assert.False(t, tr.Status().Active)
	assert.Empty(t, tr.Status().History)
}

func TestTrack_AcceptAndExtend(t *testing.T) {
	tr, err := NewTracker("")
	require.NoError(t, err)

	res, err := tr.Track("https://dbis.ur.de/dbinfo")
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, res.Status)
	assert.Equal(t, 1, tr.Status().Count)

	res, err = tr.Track("https://ieeexplore.ieee.org/abc")
	require.NoError(t, err)
	assert.Equal(t, StatusTracked, res.Status)

	s := tr.Status()
	assert.Equal(t, 2, s.Count)
	require.Len(t, s.History, 2)
	assert.True(t, s.History[0].IsDBIS)
	assert.False(t, s.History[1].IsDBIS)
	assert.Equal(t, 2, s.History[1].NavigationNumber)
	assert.Equal(t, "https://dbis.ur.de/dbinfo", s.FirstURL)
	assert.True(t, s.StartedFromDBIS)
}

func TestTrack_HistoryCap(t *testing.T) {
	tr, err := NewTracker("")
	require.NoError(t, err)
	_, err = tr.Track("https://dbis.ur.de/")
	require.NoError(t, err)

	for i := 0; i < 120; i++ {
		_, err := tr.Track(fmt.Sprintf("https://example.org/%d", i))
		require.NoError(t, err)
		assert.LessOrEqual(t, len(tr.Status().History), MaxHistory)
	}
	s := tr.Status()
	assert.Equal(t, 121, s.Count)
	require.Len(t, s.History, MaxHistory)
	assert.True(t, s.History[0].IsDBIS)
	assert.Equal(t, 121, s.History[MaxHistory-1].NavigationNumber)
	assert.Equal(t, "https://example.org/119", s.History[MaxHistory-1].URL)
}

func TestTracker_PersistsAndResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nav", "session.json")
	tr, err := NewTracker(path)
	require.NoError(t, err)
	_, err = tr.Track("https://dbis.ur.de/")
	require.NoError(t, err)
	_, err = tr.Track("https://dl.acm.org/doi/10.1145/1")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, k := range []string{"session_active", "started_from_dbis", "navigation_count", "navigation_history", "first_url", "created_at", "last_updated"} {
		assert.Contains(t, raw, k)
	}

	// A second tracker on the same file continues the session.
	tr2, err := NewTracker(path)
	require.NoError(t, err)
	assert.True(t, tr2.Active())
	res, err := tr2.Track("https://link.springer.com/x")
	require.NoError(t, err)
	assert.Equal(t, 3, res.NavigationNumber)

	res, err = tr2.Reset()
	require.NoError(t, err)
	assert.Equal(t, StatusReset, res.Status)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, err = tr2.Track("https://link.springer.com/x")
	assert.Error(t, err)
}

func TestTracker_HookGuardsBrowser(t *testing.T) {
	tr, err := NewTracker("")
	require.NoError(t, err)
	fake := browsertest.New()
	sess := browser.WithNavigateHook(fake, tr.Hook())
	ctx := context.Background()

	err = sess.Navigate(ctx, "https://ieeexplore.ieee.org/document/1")
	require.Error(t, err)
	assert.Equal(t, failure.KindInvariantViolation, failure.KindOf(err))
	assert.Empty(t, fake.Navigations, "rejected navigation must not reach the browser")

	require.NoError(t, sess.Navigate(ctx, "https://dbis.ur.de/UBTIB/"))
	require.NoError(t, sess.Navigate(ctx, "https://ieeexplore.ieee.org/document/1"))
	assert.Equal(t, []string{"https://dbis.ur.de/UBTIB/", "https://ieeexplore.ieee.org/document/1"}, fake.Navigations)
	assert.Equal(t, 2, tr.Status().Count)
}
