// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdiddy/academic-agent/internal/httputil"
	"github.com/pdiddy/academic-agent/pkg/types"
)

// crossRefAPIBase is the CrossRef REST endpoint. Declared as a var so tests
// can substitute an httptest server.
var crossRefAPIBase = "https://api.crossref.org"

const (
	crossRefSelect  = "DOI,title,author,published,abstract,container-title,URL,is-referenced-by-count"
	crossRefMaxRows = 1000
)

var markupTag = regexp.MustCompile(`<[^>]+>`)

// CrossRefBackend queries the CrossRef works API. No key is needed; an
// email moves requests into the polite pool.
type CrossRefBackend struct {
	Client *http.Client
	Email  string
}

// Name returns the backend identifier.
func (b *CrossRefBackend) Name() string { return "crossref" }

func (b *CrossRefBackend) header(opts Options) http.Header {
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	if b.Email != "" {
		ua = fmt.Sprintf("%s (mailto:%s)", ua, b.Email)
	}
	return http.Header{"User-Agent": {ua}}
}

// Search queries CrossRef and returns candidates that carry a DOI.
func (b *CrossRefBackend) Search(ctx context.Context, query string, opts Options) ([]types.Candidate, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty CrossRef query")
	}
	rows := opts.limit()
	if rows > crossRefMaxRows {
		rows = crossRefMaxRows
	}
	params := url.Values{
		"query":  {query},
		"rows":   {strconv.Itoa(rows)},
		"select": {crossRefSelect},
	}
	if opts.MinYear > 0 {
		params.Set("filter", fmt.Sprintf("from-pub-date:%d", opts.MinYear))
	}
	if b.Email != "" {
		params.Set("mailto", b.Email)
	}

	var resp crossRefListResponse
	if err := httputil.GetJSON(ctx, b.Client, crossRefAPIBase+"/works?"+params.Encode(), b.header(opts), &resp); err != nil {
		return nil, fmt.Errorf("CrossRef API request: %w", err)
	}

	var out []types.Candidate
	for _, raw := range resp.Message.Items {
		var w crossRefWork
		if err := json.Unmarshal(raw, &w); err != nil || w.DOI == "" {
			continue
		}
		c := w.candidate()
		c.Raw = raw
		out = append(out, c)
		if len(out) == rows {
			break
		}
	}
	return out, nil
}

// GetByDOI looks up a single work. A DOI unknown to CrossRef returns
// (nil, nil).
func (b *CrossRefBackend) GetByDOI(ctx context.Context, doi string, opts Options) (*types.Candidate, error) {
	doi = types.NormalizeDOI(doi)
	if doi == "" {
		return nil, fmt.Errorf("empty DOI")
	}
	var resp struct {
		Message json.RawMessage `json:"message"`
	}
	err := httputil.GetJSON(ctx, b.Client, crossRefAPIBase+"/works/"+url.PathEscape(doi), b.header(opts), &resp)
	if err != nil {
		if httputil.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("CrossRef lookup %s: %w", doi, err)
	}
	var w crossRefWork
	if err := json.Unmarshal(resp.Message, &w); err != nil {
		return nil, fmt.Errorf("parsing CrossRef work %s: %w", doi, err)
	}
	c := w.candidate()
	c.Raw = resp.Message
	return &c, nil
}

func (w crossRefWork) candidate() types.Candidate {
	c := types.Candidate{
		DOI:        types.NormalizeDOI(w.DOI),
		Title:      "Untitled",
		Abstract:   cleanAbstract(w.Abstract),
		Database:   "CrossRef",
		Source:     "crossref",
		SourceType: types.SourceAPI,
		Citations:  w.ReferencedBy,
		URL:        w.URL,
	}
	if len(w.Title) > 0 && strings.TrimSpace(w.Title[0]) != "" {
		c.Title = strings.TrimSpace(w.Title[0])
	}
	if len(w.ContainerTitle) > 0 {
		c.Venue = w.ContainerTitle[0]
	}
	for _, a := range w.Author {
		if a.Family == "" {
			continue
		}
		if a.Given != "" {
			c.Authors = append(c.Authors, a.Family+", "+a.Given)
		} else {
			c.Authors = append(c.Authors, a.Family)
		}
	}
	if len(w.Published.DateParts) > 0 && len(w.Published.DateParts[0]) > 0 {
		c.Year = w.Published.DateParts[0][0]
	}
	return c
}

// cleanAbstract strips JATS/XML markup and collapses whitespace.
func cleanAbstract(s string) string {
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(markupTag.ReplaceAllString(s, " ")), " ")
}

// CrossRef API JSON structures.
type crossRefListResponse struct {
	Message struct {
		TotalResults int               `json:"total-results"`
		Items        []json.RawMessage `json:"items"`
	} `json:"message"`
}

type crossRefWork struct {
	DOI            string           `json:"DOI"`
	Title          []string         `json:"title"`
	Author         []crossRefAuthor `json:"author"`
	Published      crossRefDate     `json:"published"`
	Abstract       string           `json:"abstract"`
	ContainerTitle []string         `json:"container-title"`
	URL            string           `json:"URL"`
	ReferencedBy   int              `json:"is-referenced-by-count"`
}

type crossRefAuthor struct {
	Given  string `json:"given"`
	Family string `json:"family"`
}

type crossRefDate struct {
	DateParts [][]int `json:"date-parts"`
}
