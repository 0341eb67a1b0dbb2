// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"io"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/academic-agent/pkg/types"
)

// CSLFile is the CSL-YAML export inside a run directory.
const CSLFile = "sources.csl.yaml"

// CSLItem is a bibliographic entry in CSL (Citation Style Language) form,
// readable by Pandoc and reference managers.
type CSLItem struct {
	ID             string    `yaml:"id"`
	Type           string    `yaml:"type"`
	Title          string    `yaml:"title"`
	Author         []CSLName `yaml:"author,omitempty"`
	ContainerTitle string    `yaml:"container-title,omitempty"`
	Abstract       string    `yaml:"abstract,omitempty"`
	Issued         *CSLDate  `yaml:"issued,omitempty"`
	DOI            string    `yaml:"DOI,omitempty"`
	URL            string    `yaml:"URL,omitempty"`
	Note           string    `yaml:"note,omitempty"`
}

// CSLName is a person's name in CSL form.
type CSLName struct {
	Family  string `yaml:"family,omitempty"`
	Given   string `yaml:"given,omitempty"`
	Literal string `yaml:"literal,omitempty"`
}

// CSLDate is a date in CSL date-parts form.
type CSLDate struct {
	DateParts [][]int `yaml:"date-parts"`
}

// WriteCSL writes the ranked sources as a CSL-YAML list.
func WriteCSL(w io.Writer, sources []types.RankedSource) error {
	items := make([]CSLItem, len(sources))
	for i, s := range sources {
		items[i] = ToCSL(s)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(items); err != nil {
		return err
	}
	return enc.Close()
}

// ToCSL converts a ranked source. Sources with a venue are journal or
// conference articles; without one they are plain articles.
func ToCSL(s types.RankedSource) CSLItem {
	item := CSLItem{
		ID:             s.ID,
		Type:           "article",
		Title:          s.Title,
		ContainerTitle: s.Venue,
		Abstract:       s.Abstract,
		DOI:            types.NormalizeDOI(s.DOI),
		URL:            s.URL,
	}
	if s.Venue != "" {
		item.Type = "article-journal"
		if isProceedings(s.Venue) {
			item.Type = "paper-conference"
		}
	}
	for _, a := range s.Authors {
		if n := cslName(a); n != (CSLName{}) {
			item.Author = append(item.Author, n)
		}
	}
	if s.Year > 0 {
		item.Issued = &CSLDate{DateParts: [][]int{{s.Year}}}
	}
	if s.Database != "" {
		item.Note = "Datenbank: " + s.Database
	}
	return item
}

func isProceedings(venue string) bool {
	v := strings.ToLower(venue)
	for _, kw := range []string{"proceedings", "conference", "symposium", "workshop"} {
		if strings.Contains(v, kw) {
			return true
		}
	}
	return false
}

// cslName splits "Family, Given" or "Given Family" into CSL parts.
// Single-token names use the literal field.
func cslName(name string) CSLName {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return CSLName{}
	}
	if i := strings.Index(name, ","); i >= 0 {
		return CSLName{Family: strings.TrimSpace(name[:i]), Given: strings.TrimSpace(name[i+1:])}
	}
	idx := strings.LastIndex(name, " ")
	if idx < 0 {
		return CSLName{Literal: name}
	}
	return CSLName{Given: name[:idx], Family: name[idx+1:]}
}
