// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/pdiddy/academic-agent/internal/failure"
	"github.com/pdiddy/academic-agent/internal/httputil"
	"github.com/pdiddy/academic-agent/internal/ratelimit"
	"github.com/pdiddy/academic-agent/pkg/types"
)

func TestMain(m *testing.M) {
	httputil.RetryBaseDelay = time.Millisecond
	goleak.VerifyTestMain(m)
}

// --- mock backend ---

type mockBackend struct {
	name  string
	calls atomic.Int32
	// fn answers each call; the call number starts at 1.
	fn func(n int32, query string) ([]types.Candidate, error)
}

func (m *mockBackend) Name() string { return m.name }

func (m *mockBackend) Search(_ context.Context, query string, _ Options) ([]types.Candidate, error) {
	return m.fn(m.calls.Add(1), query)
}

func returns(c ...types.Candidate) func(int32, string) ([]types.Candidate, error) {
	return func(int32, string) ([]types.Candidate, error) { return c, nil }
}

func testCfg() types.SearchConfig {
	return types.SearchConfig{
		HTTPConfig:     types.HTTPConfig{Timeout: 10 * time.Second, UserAgent: "test/0.1"},
		MaxResults:     20,
		BackendTimeout: time.Second,
		RetryBackoff:   time.Millisecond,
	}
}

func testOpts() Options {
	return Options{MaxResults: 20, UserAgent: "test/0.1"}
}

// --- Federation ---

func TestFederation_NoBackends(t *testing.T) {
	_, err := NewFederation(nil, testCfg()).Search(context.Background(), types.QueryBundle{Question: "q?"}, testOpts())
	require.Error(t, err)
	assert.Equal(t, failure.KindFatalConfig, failure.KindOf(err))
}

func TestFederation_EmptyBundle(t *testing.T) {
	b := &mockBackend{name: "crossref", fn: returns()}
	_, err := NewFederation([]Backend{b}, testCfg()).Search(context.Background(), types.QueryBundle{}, testOpts())
	require.Error(t, err)
}

func TestFederation_RoutesRenderedQueries(t *testing.T) {
	var got queryLog
	cr := &mockBackend{name: "crossref", fn: func(_ int32, q string) ([]types.Candidate, error) {
		got.set("crossref", q)
		return []types.Candidate{{Title: "A", Source: "crossref"}}, nil
	}}
	s2 := &mockBackend{name: "semantic_scholar", fn: func(_ int32, q string) ([]types.Candidate, error) {
		got.set("semantic_scholar", q)
		return []types.Candidate{{Title: "B", Source: "semantic_scholar"}, {Title: "C", Source: "semantic_scholar"}}, nil
	}}
	bundle := types.QueryBundle{
		Question: "How does DevOps governance work?",
		Queries:  map[string]string{"crossref": `"DevOps" AND "governance"`},
	}

	res, err := NewFederation([]Backend{cr, s2}, testCfg()).Search(context.Background(), bundle, testOpts())
	require.NoError(t, err)
	assert.Equal(t, `"DevOps" AND "governance"`, got.get("crossref"))
	assert.Equal(t, bundle.Question, got.get("semantic_scholar"), "missing query falls back to the question")

	// Back-end order is preserved regardless of completion order.
	require.Len(t, res.Candidates, 3)
	assert.Equal(t, "A", res.Candidates[0].Title)
	assert.Equal(t, map[string]int{"crossref": 1, "semantic_scholar": 2}, res.Counts)
	assert.Empty(t, res.Failed)
}

func TestFederation_RetriesOnceThenSucceeds(t *testing.T) {
	b := &mockBackend{name: "openalex", fn: func(n int32, _ string) ([]types.Candidate, error) {
		if n == 1 {
			return nil, errors.New("connection reset")
		}
		return []types.Candidate{{Title: "X"}}, nil
	}}
	res, err := NewFederation([]Backend{b}, testCfg()).Search(context.Background(), types.QueryBundle{Question: "q?"}, testOpts())
	require.NoError(t, err)
	assert.Equal(t, int32(2), b.calls.Load())
	assert.Len(t, res.Candidates, 1)
}

func TestFederation_ExcludesBackendAfterRetry(t *testing.T) {
	bad := &mockBackend{name: "pubmed", fn: func(int32, string) ([]types.Candidate, error) {
		return nil, errors.New("HTTP 503")
	}}
	good := &mockBackend{name: "crossref", fn: returns(types.Candidate{Title: "ok"})}

	res, err := NewFederation([]Backend{bad, good}, testCfg()).Search(context.Background(), types.QueryBundle{Question: "q?"}, testOpts())
	require.NoError(t, err, "one failing back-end must not abort the cycle")
	assert.Equal(t, int32(2), bad.calls.Load(), "exactly one retry")
	assert.Len(t, res.Candidates, 1)
	assert.Contains(t, res.Failed["pubmed"], "HTTP 503")
	assert.Equal(t, 0, res.Counts["pubmed"])
}

func TestFederation_NoRetryOnInvariantViolation(t *testing.T) {
	b := &mockBackend{name: "dbis", fn: func(int32, string) ([]types.Candidate, error) {
		return nil, failure.Newf(failure.KindInvariantViolation, "dbis", "not started from DBIS")
	}}
	res, err := NewFederation([]Backend{b}, testCfg()).Search(context.Background(), types.QueryBundle{Question: "q?"}, testOpts())
	require.NoError(t, err)
	assert.Equal(t, int32(1), b.calls.Load())
	assert.Contains(t, res.Failed, "dbis")
}

func TestFederation_DailyCapExcludesBackend(t *testing.T) {
	b := &mockBackend{name: "openalex", fn: returns(types.Candidate{Title: "x"})}
	limits := ratelimit.NewSet(map[string]types.BackendLimit{"openalex": {Daily: 1}})
	f := NewFederation([]Backend{b}, testCfg(), WithLimits(limits), WithLogger(zap.NewNop()))

	_, err := f.Search(context.Background(), types.QueryBundle{Question: "q?"}, testOpts())
	require.NoError(t, err)
	res, err := f.Search(context.Background(), types.QueryBundle{Question: "q?"}, testOpts())
	require.NoError(t, err)
	assert.Equal(t, int32(1), b.calls.Load())
	assert.Contains(t, res.Failed["openalex"], "daily request cap")
}

func TestFederation_BackendTimeout(t *testing.T) {
	slow := &blockingBackend{name: "semantic_scholar"}
	cfg := testCfg()
	cfg.BackendTimeout = 20 * time.Millisecond

	start := time.Now()
	res, err := NewFederation([]Backend{slow}, cfg).Search(context.Background(), types.QueryBundle{Question: "q?"}, testOpts())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, res.Failed, "semantic_scholar")
}

func TestFederation_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := &mockBackend{name: "crossref", fn: returns()}
	_, err := NewFederation([]Backend{b}, testCfg()).Search(ctx, types.QueryBundle{Question: "q?"}, testOpts())
	assert.ErrorIs(t, err, context.Canceled)
}

type blockingBackend struct{ name string }

func (b *blockingBackend) Name() string { return b.name }

func (b *blockingBackend) Search(ctx context.Context, _ string, _ Options) ([]types.Candidate, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// queryLog records the query each back-end received.
type queryLog struct {
	mu sync.Mutex
	m  map[string]string
}

func (l *queryLog) set(k, v string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.m == nil {
		l.m = map[string]string{}
	}
	l.m[k] = v
}

func (l *queryLog) get(k string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.m[k]
}

// --- Planning and construction ---

func TestPlanDatabases(t *testing.T) {
	tests := []struct {
		name        string
		primary     []string
		wantBackend []string
		wantDBIS    []string
	}{
		{"empty defaults", nil, []string{"crossref", "openalex", "semantic_scholar"}, nil},
		{"apis only", []string{"CrossRef", "Semantic Scholar", "crossref"}, []string{"crossref", "semantic_scholar"}, nil},
		{"publisher databases go to DBIS", []string{"IEEE Xplore", "OpenAlex", "ACM Digital Library"},
			[]string{"dbis", "openalex"}, []string{"IEEE Xplore", "ACM Digital Library"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, d := PlanDatabases(tt.primary)
			assert.Equal(t, tt.wantBackend, b)
			assert.Equal(t, tt.wantDBIS, d)
		})
	}
}

func TestNewBackends(t *testing.T) {
	bs, err := NewBackends([]string{"crossref", "openalex", "semantic_scholar", "pubmed", "arxiv", "dbis"},
		Deps{Creds: types.Credentials{CrossRefEmail: "a@b.c"}}, nil)
	require.NoError(t, err)
	names := make([]string, len(bs))
	for i, b := range bs {
		names[i] = b.Name()
	}
	assert.Equal(t, []string{"crossref", "openalex", "semantic_scholar", "pubmed", "arxiv"}, names, "dbis skipped without a browser")
	assert.Equal(t, "a@b.c", bs[0].(*CrossRefBackend).Email)

	_, err = NewBackends([]string{"scopus"}, Deps{}, nil)
	require.Error(t, err)
	assert.Equal(t, failure.KindFatalConfig, failure.KindOf(err))
}

// --- arXiv ---

const sampleArxivSearchXML = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v5</id>
    <published>2017-06-12T17:57:34Z</published>
    <title>Attention Is All
      You Need</title>
    <summary>  The dominant sequence transduction models...  </summary>
    <author><name>Ashish Vaswani</name></author>
    <author><name>Noam Shazeer</name></author>
    <link href="http://arxiv.org/abs/1706.03762v5" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/1706.03762v5" rel="related" type="application/pdf"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/1810.04805v2</id>
    <published>2018-10-11T00:50:01Z</published>
    <title>BERT</title>
    <summary>We introduce BERT.</summary>
    <author><name>Jacob Devlin</name></author>
    <arxiv:doi>10.18653/v1/N19-1423</arxiv:doi>
    <arxiv:journal_ref>NAACL 2019</arxiv:journal_ref>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/1409.0473v7</id>
    <published>2014-09-01T16:33:02Z</published>
    <title>Neural Machine Translation by Jointly Learning to Align and Translate</title>
    <summary>Old paper.</summary>
    <author><name>Dzmitry Bahdanau</name></author>
  </entry>
</feed>`

func TestArxivBackendSearch(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("search_query")
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, sampleArxivSearchXML)
	}))
	defer ts.Close()

	old := arxivAPIBase
	arxivAPIBase = ts.URL
	defer func() { arxivAPIBase = old }()

	b := &ArxivBackend{Client: ts.Client()}
	opts := testOpts()
	opts.MinYear = 2015
	results, err := b.Search(context.Background(), "attention transformer", opts)
	require.NoError(t, err)
	assert.Equal(t, "all:attention transformer", gotQuery)
	require.Len(t, results, 2, "the 2014 paper is below MinYear")

	r := results[0]
	assert.Equal(t, "10.48550/arxiv.1706.03762", r.DOI)
	assert.Equal(t, "Attention Is All You Need", r.Title)
	assert.Equal(t, 2017, r.Year)
	assert.Equal(t, []string{"Ashish Vaswani", "Noam Shazeer"}, r.Authors)
	assert.Equal(t, "http://arxiv.org/pdf/1706.03762v5", r.PDFURL)
	assert.Equal(t, "https://arxiv.org/abs/1706.03762", r.URL)
	assert.Equal(t, types.SourceAPI, r.SourceType)
	assert.Equal(t, "arxiv", r.Source)

	assert.Equal(t, "10.18653/v1/n19-1423", results[1].DOI)
	assert.Equal(t, "NAACL 2019", results[1].Venue)
}

func TestArxivBackendHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()
	old := arxivAPIBase
	arxivAPIBase = ts.URL
	defer func() { arxivAPIBase = old }()

	_, err := (&ArxivBackend{Client: ts.Client()}).Search(context.Background(), "x", testOpts())
	require.Error(t, err)
	assert.Equal(t, failure.KindBackendUnavailable, failure.KindOf(err))
}

func TestExtractArxivID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://arxiv.org/abs/2301.07041v1", "2301.07041"},
		{"http://arxiv.org/abs/2301.07041", "2301.07041"},
		{"http://arxiv.org/abs/hep-th/9901001v2", "hep-th/9901001"},
		{"not a url", ""},
	}
	for _, tt := range tests {
		if got := extractArxivID(tt.in); got != tt.want {
			t.Errorf("extractArxivID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildArxivQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"attention", "all:attention"},
		{"deep learning", "all:deep+learning"},
		{`"DevOps" AND ("governance" OR compliance)`, "all:DevOps+AND+all:governance+OR+all:compliance"},
		{"AND trailing AND", "all:trailing"},
		{"  ", ""},
	}
	for _, tt := range tests {
		if got := buildArxivQuery(tt.in); got != tt.want {
			t.Errorf("buildArxivQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// --- Output formatting ---

func TestFormatTable(t *testing.T) {
	res := &Result{
		Candidates: []types.Candidate{
			{Title: strings.Repeat("Long title ", 10), Authors: []string{"Vaswani, A.", "Shazeer, N."}, Year: 2017, Citations: 100, Source: "crossref"},
			{Title: "Short", Source: "openalex"},
		},
		Failed: map[string]string{"pubmed": "HTTP 503"},
	}
	var buf bytes.Buffer
	FormatTable(res, &buf)
	out := buf.String()
	assert.Contains(t, out, "Vaswani, A. et al.")
	assert.Contains(t, out, "2 results (failed back-ends: pubmed)")
	assert.Contains(t, out, "...")
}

func TestFormatTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	FormatTable(&Result{}, &buf)
	assert.Equal(t, "No results found.\n", buf.String())
}

func TestFormatJSON(t *testing.T) {
	res := &Result{Candidates: []types.Candidate{{Title: "A", DOI: "10.1/x"}}, Counts: map[string]int{"crossref": 1}}
	var buf bytes.Buffer
	require.NoError(t, FormatJSON(res, &buf))
	var back Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, "10.1/x", back.Candidates[0].DOI)
	assert.Equal(t, 1, back.Counts["crossref"])
}
