// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pdiddy/academic-agent/internal/httputil"
	"github.com/pdiddy/academic-agent/internal/ratelimit"
	"github.com/pdiddy/academic-agent/pkg/types"
)

// API base URLs, overridden in tests.
var (
	unpaywallAPIBase = "https://api.unpaywall.org/v2"
	coreAPIBase      = "https://api.core.ac.uk/v3"
)

// Unpaywall resolves a DOI to an open-access PDF location. When Unpaywall
// knows no location, the PDF link advertised by the search back-end (for
// example an arXiv or OpenAlex open-access URL) is tried instead.
type Unpaywall struct {
	Client  *http.Client
	Email   string
	Limiter *ratelimit.Limiter
}

// Name returns the strategy identifier.
func (u *Unpaywall) Name() string { return "unpaywall" }

type unpaywallLocation struct {
	URL       string `json:"url"`
	URLForPDF string `json:"url_for_pdf"`
}

type unpaywallResponse struct {
	IsOA         bool                `json:"is_oa"`
	BestLocation *unpaywallLocation  `json:"best_oa_location"`
	Locations    []unpaywallLocation `json:"oa_locations"`
}

// Fetch looks the DOI up and downloads the first open-access PDF URL.
func (u *Unpaywall) Fetch(ctx context.Context, src types.RankedSource) (*Document, error) {
	var urls []string
	var lookupErr error
	if doi := types.NormalizeDOI(src.DOI); doi != "" && u.Email != "" {
		urls, lookupErr = u.lookup(ctx, doi)
	}
	if src.PDFURL != "" {
		urls = appendUnique(urls, src.PDFURL)
	}
	if len(urls) == 0 {
		if lookupErr != nil {
			return nil, lookupErr
		}
		return nil, ErrNoCandidate
	}
	return firstAccepted(ctx, u.Client, urls)
}

func (u *Unpaywall) lookup(ctx context.Context, doi string) ([]string, error) {
	if u.Limiter != nil {
		if err := u.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	endpoint := unpaywallAPIBase + "/" + url.PathEscape(doi) + "?email=" + url.QueryEscape(u.Email)
	var resp unpaywallResponse
	if err := httputil.GetJSON(ctx, defaultClient(u.Client), endpoint, nil, &resp); err != nil {
		if httputil.IsNotFound(err) {
			return nil, ErrNoCandidate
		}
		return nil, fmt.Errorf("unpaywall lookup: %w", err)
	}
	var urls []string
	if b := resp.BestLocation; b != nil {
		urls = appendUnique(urls, b.URLForPDF)
	}
	for _, l := range resp.Locations {
		urls = appendUnique(urls, l.URLForPDF)
	}
	if b := resp.BestLocation; b != nil {
		urls = appendUnique(urls, b.URL)
	}
	return urls, nil
}

// Core queries the CORE full-text aggregator by DOI, falling back to the
// title when the source has no DOI.
type Core struct {
	Client  *http.Client
	APIKey  string
	Limiter *ratelimit.Limiter
}

// Name returns the strategy identifier.
func (c *Core) Name() string { return "core" }

type coreResponse struct {
	TotalHits int        `json:"totalHits"`
	Results   []coreWork `json:"results"`
}

type coreWork struct {
	DownloadURL string     `json:"downloadUrl"`
	FullTextURL string     `json:"fullTextLink"`
	Links       []coreLink `json:"links"`
}

type coreLink struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Fetch searches CORE and downloads the best full-text link of the first hit.
func (c *Core) Fetch(ctx context.Context, src types.RankedSource) (*Document, error) {
	var q string
	switch {
	case types.NormalizeDOI(src.DOI) != "":
		q = fmt.Sprintf("doi:%q", types.NormalizeDOI(src.DOI))
	case strings.TrimSpace(src.Title) != "":
		q = fmt.Sprintf("title:%q", strings.TrimSpace(src.Title))
	default:
		return nil, ErrNoCandidate
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	endpoint := coreAPIBase + "/search/works?" + url.Values{"q": {q}, "limit": {"1"}}.Encode()
	header := http.Header{}
	if c.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.APIKey)
	}
	var resp coreResponse
	if err := httputil.GetJSON(ctx, defaultClient(c.Client), endpoint, header, &resp); err != nil {
		if httputil.IsNotFound(err) {
			return nil, ErrNoCandidate
		}
		return nil, fmt.Errorf("core search: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, ErrNoCandidate
	}
	urls := resp.Results[0].pdfURLs()
	if len(urls) == 0 {
		return nil, ErrNoCandidate
	}
	return firstAccepted(ctx, c.Client, urls)
}

// pdfURLs lists the work's download links in preference order.
func (w coreWork) pdfURLs() []string {
	var out []string
	out = appendUnique(out, w.DownloadURL)
	out = appendUnique(out, w.FullTextURL)
	for _, l := range w.Links {
		if l.Type == "download" || strings.Contains(strings.ToLower(l.URL), "pdf") {
			out = appendUnique(out, l.URL)
		}
	}
	return out
}

// firstAccepted downloads urls in order and returns the first document
// passing Accept. When none passes, the last document is returned so the
// caller records why it was rejected.
func firstAccepted(ctx context.Context, client *http.Client, urls []string) (*Document, error) {
	var last *Document
	var lastErr error
	for _, u := range urls {
		doc, err := get(ctx, client, u, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		if _, err := Accept(doc); err == nil {
			return doc, nil
		}
		last = doc
	}
	if last != nil {
		return last, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no URL to download")
	}
	return nil, lastErr
}

func appendUnique(list []string, u string) []string {
	u = strings.TrimSpace(u)
	if u == "" || !strings.HasPrefix(u, "http") {
		return list
	}
	for _, have := range list {
		if have == u {
			return list
		}
	}
	return append(list, u)
}
