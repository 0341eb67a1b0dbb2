// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pdiddy/academic-agent/internal/httputil"
	"github.com/pdiddy/academic-agent/pkg/types"
)

// semanticAPIBase is the Semantic Scholar paper search endpoint. Declared
// as a var so tests can substitute an httptest server.
var semanticAPIBase = "https://api.semanticscholar.org/graph/v1/paper/search"

const (
	semanticFields   = "title,abstract,authors,externalIds,year,venue,citationCount,url,openAccessPdf"
	semanticMaxLimit = 100
)

// SemanticScholarBackend queries the Semantic Scholar API with plain
// keyword queries.
type SemanticScholarBackend struct {
	Client *http.Client
	APIKey string
}

// Name returns the backend identifier.
func (b *SemanticScholarBackend) Name() string { return "semantic_scholar" }

// Search queries the Semantic Scholar API and returns candidates.
func (b *SemanticScholarBackend) Search(ctx context.Context, query string, opts Options) ([]types.Candidate, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, fmt.Errorf("empty Semantic Scholar query")
	}

	limit := opts.limit()
	if limit > semanticMaxLimit {
		limit = semanticMaxLimit
	}
	params := url.Values{
		"query":  {q},
		"limit":  {strconv.Itoa(limit)},
		"fields": {semanticFields},
	}
	if opts.MinYear > 0 {
		params.Set("year", fmt.Sprintf("%d-", opts.MinYear))
	}

	hdr := http.Header{"User-Agent": {opts.userAgent()}}
	if b.APIKey != "" {
		hdr.Set("x-api-key", b.APIKey)
	}

	var sr semanticResponse
	if err := httputil.GetJSON(ctx, b.Client, semanticAPIBase+"?"+params.Encode(), hdr, &sr); err != nil {
		return nil, fmt.Errorf("Semantic Scholar API request: %w", err)
	}

	var out []types.Candidate
	for _, raw := range sr.Data {
		var paper semanticPaper
		if err := json.Unmarshal(raw, &paper); err != nil || strings.TrimSpace(paper.Title) == "" {
			continue
		}
		c := types.Candidate{
			DOI:        types.NormalizeDOI(paper.ExternalIDs.DOI),
			Title:      strings.TrimSpace(paper.Title),
			Year:       paper.Year,
			Venue:      paper.Venue,
			Abstract:   paper.Abstract,
			Database:   "Semantic Scholar",
			Source:     "semantic_scholar",
			SourceType: types.SourceAPI,
			Citations:  paper.CitationCount,
			URL:        paper.URL,
			Raw:        raw,
		}
		if paper.OpenAccessPDF != nil {
			c.PDFURL = paper.OpenAccessPDF.URL
		}
		for _, a := range paper.Authors {
			c.Authors = append(c.Authors, a.Name)
		}
		out = append(out, c)
	}
	return out, nil
}

// Semantic Scholar API JSON structures.
type semanticResponse struct {
	Total  int               `json:"total"`
	Offset int               `json:"offset"`
	Data   []json.RawMessage `json:"data"`
}

type semanticPaper struct {
	PaperID       string              `json:"paperId"`
	Title         string              `json:"title"`
	Abstract      string              `json:"abstract"`
	Year          int                 `json:"year"`
	Venue         string              `json:"venue"`
	CitationCount int                 `json:"citationCount"`
	URL           string              `json:"url"`
	Authors       []semanticAuthor    `json:"authors"`
	ExternalIDs   semanticExternalIDs `json:"externalIds"`
	OpenAccessPDF *semanticPDF        `json:"openAccessPdf"`
}

type semanticAuthor struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

type semanticExternalIDs struct {
	DOI   string `json:"DOI"`
	ArXiv string `json:"ArXiv"`
}

type semanticPDF struct {
	URL string `json:"url"`
}
