// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/academic-agent/internal/failure"
	"github.com/pdiddy/academic-agent/internal/httputil"
	"github.com/pdiddy/academic-agent/pkg/types"
)

// arxivAPIBase is the arXiv search endpoint. Declared as a var so tests
// can substitute an httptest server.
var arxivAPIBase = "https://export.arxiv.org/api/query"

// arxivDOIPrefix is the DataCite prefix arXiv registers for every preprint.
const arxivDOIPrefix = "10.48550/arxiv."

// ArxivBackend queries the arXiv Atom API.
type ArxivBackend struct {
	Client *http.Client
}

// Name returns the backend identifier.
func (b *ArxivBackend) Name() string { return "arxiv" }

// Search queries the arXiv API and returns candidates published in or
// after opts.MinYear.
func (b *ArxivBackend) Search(ctx context.Context, query string, opts Options) ([]types.Candidate, error) {
	q := buildArxivQuery(query)
	if q == "" {
		return nil, fmt.Errorf("empty arXiv query")
	}

	reqURL := fmt.Sprintf("%s?search_query=%s&start=0&max_results=%d&sortBy=relevance&sortOrder=descending",
		arxivAPIBase, q, opts.limit())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", opts.userAgent())

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("arXiv API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, failure.New(failure.KindBackendUnavailable, "arxiv",
			&httputil.StatusError{Code: resp.StatusCode, URL: arxivAPIBase})
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parsing arXiv response: %w", err)
	}

	var out []types.Candidate
	for _, entry := range feed.Entries {
		arxivID := extractArxivID(entry.ID)
		if arxivID == "" {
			continue
		}
		c := types.Candidate{
			DOI:        types.NormalizeDOI(entry.DOI),
			Title:      strings.Join(strings.Fields(entry.Title), " "),
			Venue:      strings.TrimSpace(entry.JournalRef),
			Abstract:   strings.Join(strings.Fields(entry.Summary), " "),
			Database:   "arXiv",
			Source:     "arxiv",
			SourceType: types.SourceAPI,
			URL:        "https://arxiv.org/abs/" + arxivID,
		}
		if c.DOI == "" {
			c.DOI = arxivDOIPrefix + strings.ToLower(arxivID)
		}
		for _, l := range entry.Links {
			if l.Title == "pdf" {
				c.PDFURL = l.Href
			}
		}
		for _, a := range entry.Authors {
			c.Authors = append(c.Authors, strings.TrimSpace(a.Name))
		}
		if t, parseErr := time.Parse(time.RFC3339, entry.Published); parseErr == nil {
			c.Year = t.Year()
		}
		if opts.MinYear > 0 && c.Year > 0 && c.Year < opts.MinYear {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// buildArxivQuery turns a keyword or Boolean query into the search_query
// parameter. Quotes and parentheses are dropped; AND/OR/NOT are kept as
// arXiv operators between all: terms.
func buildArxivQuery(query string) string {
	clean := strings.NewReplacer(`"`, " ", "(", " ", ")", " ").Replace(query)
	var parts []string
	var terms []string
	flush := func() {
		if len(terms) > 0 {
			parts = append(parts, "all:"+strings.Join(terms, "+"))
			terms = nil
		}
	}
	for _, f := range strings.Fields(clean) {
		switch f {
		case "AND", "OR", "NOT":
			flush()
			if len(parts) > 0 {
				parts = append(parts, f)
			}
		default:
			terms = append(terms, url.QueryEscape(f))
		}
	}
	flush()
	// Drop a dangling operator.
	if n := len(parts); n > 0 {
		switch parts[n-1] {
		case "AND", "OR", "NOT":
			parts = parts[:n-1]
		}
	}
	return strings.Join(parts, "+")
}

// arXiv Atom feed XML structures.
type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID         string        `xml:"id"`
	Title      string        `xml:"title"`
	Summary    string        `xml:"summary"`
	Published  string        `xml:"published"`
	Authors    []arxivAuthor `xml:"author"`
	Links      []arxivLink   `xml:"link"`
	DOI        string        `xml:"http://arxiv.org/schemas/atom doi"`
	JournalRef string        `xml:"http://arxiv.org/schemas/atom journal_ref"`
}

type arxivAuthor struct {
	Name string `xml:"name"`
}

type arxivLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
}

// extractArxivID pulls the arXiv ID from the entry's <id> URL
// (e.g. "http://arxiv.org/abs/2301.07041v1" to "2301.07041").
func extractArxivID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id := idURL[idx+len(prefix):]

	// Strip version suffix (e.g. "v1", "v2").
	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		if _, err := strconv.Atoi(id[vIdx+1:]); err == nil {
			id = id[:vIdx]
		}
	}
	return id
}
