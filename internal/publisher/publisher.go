// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package publisher locates PDF links on publisher landing pages. Each
// publisher has an ordered selector list; the first selector that yields a
// link wins. The navigator only reads the page, it never follows the link.
package publisher

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/academic-agent/internal/browser"
)

// Publisher identifies a publisher platform.
type Publisher string

const (
	IEEE     Publisher = "IEEE"
	ACM      Publisher = "ACM"
	Springer Publisher = "Springer"
	Elsevier Publisher = "Elsevier"
	Unknown  Publisher = "unknown"
)

// Selectors maps each publisher to its selectors in priority order.
type Selectors map[Publisher][]string

// DefaultSelectors is the built-in selector table.
var DefaultSelectors = Selectors{
	IEEE:     {`a:has-text("Download PDF")`, `a.pdf-download`, `a[href*=".pdf"]`, `a[href*="stamp.jsp"]`},
	ACM:      {`a:has-text("PDF")`, `a.pdf-link`, `a[title*="PDF"]`, `a[href*="/doi/pdf/"]`},
	Springer: {`a:has-text("Download PDF")`, `a.pdf-download`, `a[data-track-action="download pdf"]`, `a[href*="/content/pdf/"]`},
	Elsevier: {`a:has-text("Download PDF")`, `a.pdf-download`, `a[href*="pdfft"]`},
	Unknown:  {`a[href$=".pdf"]`, `a:has-text("PDF")`, `a:has-text("Download")`, `button:has-text("PDF")`},
}

// hostPublishers maps a host suffix to its publisher.
var hostPublishers = []struct {
	suffix string
	pub    Publisher
}{
	{"ieeexplore.ieee.org", IEEE},
	{"ieee.org", IEEE},
	{"dl.acm.org", ACM},
	{"acm.org", ACM},
	{"springer.com", Springer},
	{"springeropen.com", Springer},
	{"sciencedirect.com", Elsevier},
	{"elsevier.com", Elsevier},
}

// doiPrefixes maps registrant prefixes to publishers for DOI-only detection.
var doiPrefixes = map[string]Publisher{
	"10.1109": IEEE,
	"10.1145": ACM,
	"10.1007": Springer,
	"10.1016": Elsevier,
}

// Detect returns the publisher for a landing-page URL.
func Detect(rawURL string) Publisher {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Unknown
	}
	host := strings.ToLower(u.Hostname())
	for _, hp := range hostPublishers {
		if host == hp.suffix || strings.HasSuffix(host, "."+hp.suffix) {
			return hp.pub
		}
	}
	return Unknown
}

// DetectDOI returns the publisher for a DOI's registrant prefix.
func DetectDOI(doi string) Publisher {
	prefix, _, ok := strings.Cut(strings.TrimSpace(doi), "/")
	if !ok {
		return Unknown
	}
	if p, ok := doiPrefixes[prefix]; ok {
		return p
	}
	return Unknown
}

// LoadSelectors reads a YAML selector table from path and merges it over
// DefaultSelectors. Publishers absent from the file keep their defaults.
// Each list in the file must hold at least three selectors.
//
//	IEEE:
//	  - 'a:has-text("Download PDF")'
//	  - a.pdf-download
//	  - a[href*=".pdf"]
func LoadSelectors(path string) (Selectors, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading selectors file: %w", err)
	}
	var file map[string][]string
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing selectors file %s: %w", path, err)
	}
	out := make(Selectors, len(DefaultSelectors))
	for p, s := range DefaultSelectors {
		out[p] = append([]string(nil), s...)
	}
	for name, list := range file {
		p := parsePublisher(name)
		if len(list) < 3 {
			return nil, fmt.Errorf("selectors for %s: need at least 3, got %d", name, len(list))
		}
		out[p] = list
	}
	return out, nil
}

func parsePublisher(name string) Publisher {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ieee":
		return IEEE
	case "acm":
		return ACM
	case "springer":
		return Springer
	case "elsevier":
		return Elsevier
	default:
		return Unknown
	}
}

// Navigator finds PDF URLs on a loaded landing page.
type Navigator struct {
	selectors Selectors
}

// NewNavigator returns a navigator over sel (nil selects DefaultSelectors).
func NewNavigator(sel Selectors) *Navigator {
	if sel == nil {
		sel = DefaultSelectors
	}
	return &Navigator{selectors: sel}
}

// FindPDFURL tries pub's selectors in order on the session's current page
// and returns the first link, resolved against the page URL. It returns ""
// when no selector yields a link.
func (n *Navigator) FindPDFURL(ctx context.Context, s browser.Session, pub Publisher) (string, error) {
	selectors, ok := n.selectors[pub]
	if !ok {
		selectors = n.selectors[Unknown]
	}
	pageURL, err := s.URL(ctx)
	if err != nil {
		return "", err
	}
	for _, sel := range selectors {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		href, ok, err := s.Attribute(ctx, sel, "href")
		if err != nil || !ok {
			continue
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			continue
		}
		return resolve(pageURL, href), nil
	}
	return "", nil
}

func resolve(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}
