// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/pdiddy/academic-agent/pkg/types"
)

// Landing scans the article's landing page for PDF-like links and
// downloads the best one.
type Landing struct {
	Client *http.Client
}

// Name returns the strategy identifier.
func (l *Landing) Name() string { return "landing_page" }

// Fetch loads the landing page and tries its PDF links best first.
func (l *Landing) Fetch(ctx context.Context, src types.RankedSource) (*Document, error) {
	target := src.URL
	if target == "" {
		target = landingURL(src)
	}
	if target == "" {
		return nil, ErrNoCandidate
	}
	page, err := get(ctx, l.Client, target, http.Header{"Accept": {"text/html,application/xhtml+xml,*/*;q=0.8"}})
	if err != nil {
		return nil, err
	}
	if page.Status != http.StatusOK {
		return nil, &statusErr{code: page.Status, url: page.URL}
	}
	// Some landing URLs serve the PDF directly.
	if _, err := Accept(page); err == nil {
		return page, nil
	}
	links, err := PDFLinks(page.Body, page.URL)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("%w on %s", ErrNoCandidate, page.URL)
	}
	return firstAccepted(ctx, l.Client, links)
}

type pdfLink struct {
	url   string
	score int
}

// PDFLinks returns the PDF-like links of an HTML page, resolved against
// base and ordered best first: a citation_pdf_url meta tag, then hrefs
// ending in .pdf, then hrefs containing /pdf, then links whose text
// mentions "pdf" or "download".
func PDFLinks(page []byte, base string) ([]string, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parsing landing page: %w", err)
	}
	baseURL, _ := url.Parse(base)

	var found []pdfLink
	seen := map[string]bool{}
	add := func(href string, score int) {
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		abs := href
		if baseURL != nil {
			if ref, err := url.Parse(href); err == nil {
				abs = baseURL.ResolveReference(ref).String()
			}
		}
		if seen[abs] {
			return
		}
		seen[abs] = true
		found = append(found, pdfLink{url: abs, score: score})
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				if attr(n, "name") == "citation_pdf_url" {
					add(attr(n, "content"), 4)
				}
			case "a":
				href := attr(n, "href")
				lower := strings.ToLower(href)
				text := strings.ToLower(textOf(n))
				switch {
				case strings.HasSuffix(strings.SplitN(lower, "?", 2)[0], ".pdf"):
					add(href, 3)
				case strings.Contains(lower, "/pdf") || strings.Contains(lower, ".pdf"):
					add(href, 2)
				case strings.Contains(text, "pdf") || strings.Contains(text, "download"):
					add(href, 1)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	sort.SliceStable(found, func(i, j int) bool { return found[i].score > found[j].score })
	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.url
	}
	return out, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
