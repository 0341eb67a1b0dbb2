// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/pdiddy/academic-agent/pkg/types"
)

// BibTeXFile is the BibTeX export inside a run directory.
const BibTeXFile = "sources.bib"

// stopWords are skipped when picking the title word of a citation key.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "on": true, "of": true, "in": true,
	"for": true, "and": true, "to": true, "towards": true, "with": true,
}

// CitationKeys assigns each source an AuthorYearWord key such as
// smith2021devops. Clashing keys get a letter suffix: smith2021devopsb.
func CitationKeys(sources []types.RankedSource) map[string]string {
	keys := make(map[string]string, len(sources))
	used := map[string]int{}
	for _, s := range sources {
		base := citationKey(s.Candidate)
		used[base]++
		key := base
		if n := used[base]; n > 1 {
			key = fmt.Sprintf("%s%c", base, 'a'+n-1)
		}
		keys[s.ID] = key
	}
	return keys
}

func citationKey(c types.Candidate) string {
	author := asciiWord(types.Surname(firstAuthor(c.Authors)))
	if author == "" {
		author = "anon"
	}
	year := "nd"
	if c.Year > 0 {
		year = fmt.Sprint(c.Year)
	}
	var word string
	for _, w := range strings.Fields(c.Title) {
		w = asciiWord(w)
		if w != "" && !stopWords[w] {
			word = w
			break
		}
	}
	return author + year + word
}

func firstAuthor(authors []string) string {
	if len(authors) == 0 {
		return ""
	}
	return authors[0]
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// asciiWord lowercases w, strips diacritics and drops anything that is
// not an ASCII letter or digit.
func asciiWord(w string) string {
	folded, _, err := transform.String(stripMarks, w)
	if err != nil {
		folded = w
	}
	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var bibEscaper = strings.NewReplacer(`{`, `\{`, `}`, `\}`, `&`, `\&`, `%`, `\%`, `$`, `\$`, `#`, `\#`, `_`, `\_`)

// WriteBibTeX writes the ranked sources as BibTeX entries keyed by
// CitationKeys.
func WriteBibTeX(w io.Writer, sources []types.RankedSource) error {
	keys := CitationKeys(sources)
	var b strings.Builder
	for _, s := range sources {
		kind := "misc"
		venueField := ""
		switch {
		case s.Venue != "" && isProceedings(s.Venue):
			kind, venueField = "inproceedings", "booktitle"
		case s.Venue != "":
			kind, venueField = "article", "journal"
		}
		fmt.Fprintf(&b, "@%s{%s,\n", kind, keys[s.ID])
		fmt.Fprintf(&b, "  title = {%s},\n", bibEscaper.Replace(s.Title))
		if len(s.Authors) > 0 {
			fmt.Fprintf(&b, "  author = {%s},\n", bibEscaper.Replace(strings.Join(s.Authors, " and ")))
		}
		if s.Year > 0 {
			fmt.Fprintf(&b, "  year = {%d},\n", s.Year)
		}
		if venueField != "" {
			fmt.Fprintf(&b, "  %s = {%s},\n", venueField, bibEscaper.Replace(s.Venue))
		}
		if doi := types.NormalizeDOI(s.DOI); doi != "" {
			fmt.Fprintf(&b, "  doi = {%s},\n", doi)
		}
		if s.URL != "" {
			fmt.Fprintf(&b, "  url = {%s},\n", s.URL)
		}
		b.WriteString("}\n\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
