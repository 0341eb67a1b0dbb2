// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the academic-agent pipeline:
// query bundles, candidate papers, ranked sources, download records, quotes,
// and the configuration structs the stages consume.
package types

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode"
)

// SourceType distinguishes candidates found through a public API from those
// found by browsing the DBIS portal.
type SourceType string

const (
	SourceAPI  SourceType = "api"
	SourceDBIS SourceType = "dbis"
)

// QueryBundle carries the rendered query for each back-end in one search cycle.
type QueryBundle struct {
	// Question is the natural-language research question.
	Question string `json:"question" yaml:"question"`

	// Clusters holds the keyword cluster tags from the research config.
	Clusters []string `json:"clusters,omitempty" yaml:"clusters,omitempty"`

	// Queries maps a back-end name (e.g. "crossref") to its rendered query.
	Queries map[string]string `json:"queries" yaml:"queries"`
}

// Query returns the rendered query for backend, falling back to the raw
// question when none was rendered.
func (b QueryBundle) Query(backend string) string {
	if q := strings.TrimSpace(b.Queries[backend]); q != "" {
		return q
	}
	return b.Question
}

// Candidate is a paper record returned by a search back-end, before dedup
// and ranking.
type Candidate struct {
	// DOI is the bare, lowercased DOI when the back-end supplied one.
	DOI string `json:"doi,omitempty" yaml:"doi,omitempty"`

	Title string `json:"title" yaml:"title"`

	// Authors lists the authors in source order, "Family, Given" where the
	// source distinguishes the parts.
	Authors []string `json:"authors" yaml:"authors"`

	// Year is the publication year, 0 when unknown.
	Year int `json:"year,omitempty" yaml:"year,omitempty"`

	// Venue is the journal or conference name.
	Venue string `json:"venue,omitempty" yaml:"venue,omitempty"`

	Abstract string `json:"abstract,omitempty" yaml:"abstract,omitempty"`

	// Database is the database of origin (e.g. "CrossRef", "IEEE Xplore").
	Database string `json:"database" yaml:"database"`

	// Source tags the back-end that produced the record (e.g. "crossref",
	// "IEEE via DBIS").
	Source string `json:"source" yaml:"source"`

	SourceType SourceType `json:"source_type" yaml:"source_type"`

	// Citations is the citation count reported by the source.
	Citations int `json:"citations" yaml:"citations"`

	// URL is the landing page of the paper.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// PDFURL is a direct PDF link when the source advertises one.
	PDFURL string `json:"pdf_url,omitempty" yaml:"pdf_url,omitempty"`

	// Raw keeps the untouched source record.
	Raw json.RawMessage `json:"raw,omitempty" yaml:"-"`
}

// Key returns the dedup key: "doi:<doi>" when a DOI is present, otherwise
// "tpa:<title prefix>|<first-author surname>|<year>".
func (c Candidate) Key() string {
	if doi := NormalizeDOI(c.DOI); doi != "" {
		return "doi:" + doi
	}
	return "tpa:" + TitlePrefix(c.Title) + "|" + FirstAuthorSurname(c.Authors) + "|" + strconv.Itoa(c.Year)
}

// doiPrefixes are stripped, in order, by NormalizeDOI.
var doiPrefixes = []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"}

// NormalizeDOI lowercases a DOI and strips resolver prefixes.
func NormalizeDOI(doi string) string {
	d := strings.ToLower(strings.TrimSpace(doi))
	for _, p := range doiPrefixes {
		d = strings.TrimPrefix(d, p)
	}
	return strings.TrimSpace(d)
}

// titlePrefixLen is the number of normalized title characters used in the
// fuzzy dedup key.
const titlePrefixLen = 50

// TitlePrefix returns the lowercased, punctuation-free title truncated to
// titlePrefixLen runes.
func TitlePrefix(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	norm := []rune(strings.Join(strings.Fields(b.String()), " "))
	if len(norm) > titlePrefixLen {
		norm = norm[:titlePrefixLen]
	}
	return strings.TrimSpace(string(norm))
}

// FirstAuthorSurname returns the lowercased surname of the first author.
// It handles both "Family, Given" and "Given Family" forms.
func FirstAuthorSurname(authors []string) string {
	if len(authors) == 0 {
		return ""
	}
	return strings.ToLower(Surname(authors[0]))
}

// Surname extracts the family name from an author string.
func Surname(author string) string {
	author = strings.TrimSpace(author)
	if i := strings.Index(author, ","); i >= 0 {
		return strings.TrimSpace(author[:i])
	}
	fields := strings.Fields(author)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
