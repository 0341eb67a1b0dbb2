// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/pdiddy/academic-agent/internal/httputil"
	"github.com/pdiddy/academic-agent/pkg/types"
)

// openAlexSearchBase is the OpenAlex Works search endpoint. Declared as a
// var so tests can substitute an httptest server.
var openAlexSearchBase = "https://api.openalex.org/works"

const openAlexMaxPerPage = 200

// OpenAlexBackend queries the OpenAlex API. Its search parameter accepts
// unquoted Boolean expressions.
type OpenAlexBackend struct {
	Client *http.Client
	// Email is sent as mailto parameter for polite pool access.
	Email string
}

// Name returns the backend identifier.
func (b *OpenAlexBackend) Name() string { return "openalex" }

// Search queries the OpenAlex API and returns candidates.
func (b *OpenAlexBackend) Search(ctx context.Context, query string, opts Options) ([]types.Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty OpenAlex query")
	}

	perPage := opts.limit()
	if perPage > openAlexMaxPerPage {
		perPage = openAlexMaxPerPage
	}

	params := url.Values{
		"search":   {query},
		"per_page": {strconv.Itoa(perPage)},
		"page":     {"1"},
	}
	if opts.MinYear > 0 {
		params.Set("filter", fmt.Sprintf("from_publication_date:%d-01-01", opts.MinYear))
	}
	if b.Email != "" {
		params.Set("mailto", b.Email)
	}

	var oar openAlexResponse
	hdr := http.Header{"User-Agent": {opts.userAgent()}}
	if err := httputil.GetJSON(ctx, b.Client, openAlexSearchBase+"?"+params.Encode(), hdr, &oar); err != nil {
		return nil, fmt.Errorf("OpenAlex API request: %w", err)
	}

	var out []types.Candidate
	for _, raw := range oar.Results {
		var work openAlexWork
		if err := json.Unmarshal(raw, &work); err != nil {
			continue
		}
		c := types.Candidate{
			DOI:        types.NormalizeDOI(work.DOI),
			Title:      strings.TrimSpace(work.Title),
			Year:       work.PublicationYear,
			Abstract:   reconstructAbstract(work.AbstractInvertedIndex),
			Database:   "OpenAlex",
			Source:     "openalex",
			SourceType: types.SourceAPI,
			Citations:  work.CitedByCount,
			URL:        work.PrimaryLocation.LandingPageURL,
			Raw:        raw,
		}
		if c.URL == "" {
			c.URL = work.ID
		}
		if work.PrimaryLocation.Source != nil {
			c.Venue = work.PrimaryLocation.Source.DisplayName
		}
		if work.BestOALocation != nil && work.BestOALocation.PDFURL != "" {
			c.PDFURL = work.BestOALocation.PDFURL
		}
		for _, authorship := range work.Authorships {
			if authorship.Author.DisplayName != "" {
				c.Authors = append(c.Authors, authorship.Author.DisplayName)
			}
		}
		if c.Title == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The inverted index maps each word to a list of positions
// where that word appears.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}

// OpenAlex API JSON structures.
type openAlexResponse struct {
	Meta    openAlexMeta      `json:"meta"`
	Results []json.RawMessage `json:"results"`
}

type openAlexMeta struct {
	Count   int `json:"count"`
	PerPage int `json:"per_page"`
	Page    int `json:"page"`
}

type openAlexWork struct {
	ID                    string               `json:"id"`
	Title                 string               `json:"title"`
	DOI                   string               `json:"doi"`
	PublicationYear       int                  `json:"publication_year"`
	CitedByCount          int                  `json:"cited_by_count"`
	Authorships           []openAlexAuthorship `json:"authorships"`
	AbstractInvertedIndex map[string][]int     `json:"abstract_inverted_index"`
	PrimaryLocation       openAlexLocation     `json:"primary_location"`
	BestOALocation        *openAlexLocation    `json:"best_oa_location"`
}

type openAlexAuthorship struct {
	Author openAlexAuthor `json:"author"`
}

type openAlexAuthor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type openAlexLocation struct {
	LandingPageURL string          `json:"landing_page_url"`
	PDFURL         string          `json:"pdf_url"`
	Source         *openAlexSource `json:"source"`
}

type openAlexSource struct {
	DisplayName string `json:"display_name"`
}
