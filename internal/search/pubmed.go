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
	"unicode"

	"github.com/pdiddy/academic-agent/internal/httputil"
	"github.com/pdiddy/academic-agent/pkg/types"
)

// pubMedAPIBase is the NCBI E-utilities root. Declared as a var so tests
// can substitute an httptest server.
var pubMedAPIBase = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// PubMedBackend queries PubMed through E-utilities: esearch for ids, then
// esummary for metadata.
type PubMedBackend struct {
	Client *http.Client
	APIKey string
	Email  string
}

// Name returns the backend identifier.
func (b *PubMedBackend) Name() string { return "pubmed" }

func (b *PubMedBackend) params() url.Values {
	v := url.Values{"db": {"pubmed"}, "retmode": {"json"}, "tool": {"academic-agent"}}
	if b.APIKey != "" {
		v.Set("api_key", b.APIKey)
	}
	if b.Email != "" {
		v.Set("email", b.Email)
	}
	return v
}

// Search runs esearch and esummary and returns candidates.
func (b *PubMedBackend) Search(ctx context.Context, query string, opts Options) ([]types.Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty PubMed query")
	}
	hdr := http.Header{"User-Agent": {opts.userAgent()}}

	sp := b.params()
	sp.Set("term", query)
	sp.Set("retmax", strconv.Itoa(opts.limit()))
	sp.Set("sort", "relevance")
	if opts.MinYear > 0 {
		sp.Set("datetype", "pdat")
		sp.Set("mindate", strconv.Itoa(opts.MinYear))
		sp.Set("maxdate", "3000")
	}
	var sr pubMedSearchResponse
	if err := httputil.GetJSON(ctx, b.Client, pubMedAPIBase+"/esearch.fcgi?"+sp.Encode(), hdr, &sr); err != nil {
		return nil, fmt.Errorf("PubMed esearch: %w", err)
	}
	ids := sr.Result.IDList
	if len(ids) == 0 {
		return nil, nil
	}

	mp := b.params()
	mp.Set("id", strings.Join(ids, ","))
	var summary pubMedSummaryResponse
	if err := httputil.GetJSON(ctx, b.Client, pubMedAPIBase+"/esummary.fcgi?"+mp.Encode(), hdr, &summary); err != nil {
		return nil, fmt.Errorf("PubMed esummary: %w", err)
	}

	var out []types.Candidate
	for _, uid := range ids {
		raw, ok := summary.Result[uid]
		if !ok {
			continue
		}
		var doc pubMedDoc
		if err := json.Unmarshal(raw, &doc); err != nil || strings.TrimSpace(doc.Title) == "" {
			continue
		}
		c := types.Candidate{
			Title:      strings.TrimSuffix(strings.TrimSpace(doc.Title), "."),
			Year:       leadingYear(doc.PubDate),
			Venue:      doc.FullJournalName,
			Database:   "PubMed",
			Source:     "pubmed",
			SourceType: types.SourceAPI,
			URL:        "https://pubmed.ncbi.nlm.nih.gov/" + uid + "/",
			Raw:        raw,
		}
		for _, id := range doc.ArticleIDs {
			if id.IDType == "doi" {
				c.DOI = types.NormalizeDOI(id.Value)
			}
		}
		for _, a := range doc.Authors {
			if a.AuthType == "" || a.AuthType == "Author" {
				c.Authors = append(c.Authors, pubMedAuthor(a.Name))
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// pubMedAuthor turns PubMed's "Smith JA" into "Smith, J. A.".
func pubMedAuthor(name string) string {
	fields := strings.Fields(name)
	if len(fields) < 2 {
		return name
	}
	last := fields[len(fields)-1]
	if len(last) > 3 || strings.IndexFunc(last, func(r rune) bool { return !unicode.IsUpper(r) }) >= 0 {
		return name
	}
	initials := make([]string, 0, len(last))
	for _, r := range last {
		initials = append(initials, string(r)+".")
	}
	return strings.Join(fields[:len(fields)-1], " ") + ", " + strings.Join(initials, " ")
}

// leadingYear parses the year from dates like "2023 Jan 5".
func leadingYear(s string) int {
	s = strings.TrimSpace(s)
	if len(s) < 4 {
		return 0
	}
	y, err := strconv.Atoi(s[:4])
	if err != nil {
		return 0
	}
	return y
}

// E-utilities JSON structures.
type pubMedSearchResponse struct {
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type pubMedSummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

type pubMedDoc struct {
	Title           string `json:"title"`
	PubDate         string `json:"pubdate"`
	FullJournalName string `json:"fulljournalname"`
	Authors         []struct {
		Name     string `json:"name"`
		AuthType string `json:"authtype"`
	} `json:"authors"`
	ArticleIDs []struct {
		IDType string `json:"idtype"`
		Value  string `json:"value"`
	} `json:"articleids"`
}
