// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), "line: %s", sc.Text())
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestSink_WritesPerAgentJSONL(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "20260101_120000")
	require.NoError(t, err)

	s.Emit("search", "backend_done", Payload{"backend": "crossref", "count": 12})
	s.Warn("search", "back-end-failed", Payload{"backend": "pubmed", "error": errors.New("HTTP 503")})
	s.Emit("fetch", "download_started", nil)
	require.NoError(t, s.Close())

	lines := readLines(t, filepath.Join(dir, "logs", "search.jsonl"))
	require.Len(t, lines, 2)

	first := lines[0]
	assert.Equal(t, "backend_done", first["event"])
	assert.Equal(t, "20260101_120000", first["run_id"])
	assert.Equal(t, "crossref", first["backend"])
	assert.EqualValues(t, 12, first["count"])
	assert.Equal(t, "search", first["agent"])

	ts, ok := first["timestamp"].(string)
	require.True(t, ok)
	parsed, err := time.Parse(time.RFC3339, ts)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, parsed.Location())

	assert.Equal(t, "warn", lines[1]["level"])
	assert.Equal(t, "HTTP 503", lines[1]["error"])

	fetchLines := readLines(t, filepath.Join(dir, "logs", "fetch.jsonl"))
	require.Len(t, fetchLines, 1)
	assert.Equal(t, "download_started", fetchLines[0]["event"])

	session, err := os.ReadFile(filepath.Join(dir, "session_log.txt"))
	require.NoError(t, err)
	assert.Equal(t, 3, bytes.Count(session, []byte("\n")))
	assert.Contains(t, string(session), "back-end-failed")
}

func TestSink_RedactsPayload(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "r1")
	require.NoError(t, err)

	s.Emit("auth", "login", Payload{
		"user":     "jane.doe@uni-example.de",
		"password": "hunter2",
		"note":     "key sk-abcdefghijklmnopqrstu used",
	})
	require.NoError(t, s.Close())

	lines := readLines(t, filepath.Join(dir, "logs", "auth.jsonl"))
	require.Len(t, lines, 1)
	assert.Equal(t, "[REDACTED_EMAIL]", lines[0]["user"])
	assert.Equal(t, "[REDACTED]", lines[0]["password"])
	assert.Equal(t, "key [REDACTED_API_KEY] used", lines[0]["note"])

	session, err := os.ReadFile(filepath.Join(dir, "session_log.txt"))
	require.NoError(t, err)
	assert.NotContains(t, string(session), "hunter2")
	assert.NotContains(t, string(session), "jane.doe")
}

func TestSink_EmitAfterCloseIsDropped(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "r1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s.Emit("late", "ignored", nil)
	_, err = os.Stat(filepath.Join(dir, "logs", "late.jsonl"))
	assert.True(t, os.IsNotExist(err))
}

func TestNilSinkIsSafe(t *testing.T) {
	var s *Sink
	s.Emit("x", "y", Payload{"a": 1})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger("warn", &buf)
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	_, err = NewLogger("loud", &buf)
	assert.Error(t, err)
}
