// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package report writes the final artifacts of a run: the annotated
// bibliography, the quote library CSV and a CSL-YAML export of the
// ranked sources.
package report

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pdiddy/academic-agent/pkg/types"
)

// Citation formats c in APA 7 style:
//
//	Smith, J., & Doe, A. (2024). *Title*. *Venue*. https://doi.org/10.1/x
//
// All authors are listed; the last is preceded by "&".
func Citation(c types.Candidate) string {
	return citation(c, false)
}

// ShortCitation is Citation with three or more authors shortened to
// "First, et al.", as used in the quote library.
func ShortCitation(c types.Candidate) string {
	return citation(c, true)
}

func citation(c types.Candidate, short bool) string {
	var b strings.Builder
	b.WriteString(authorList(c.Authors, short))
	b.WriteString(" (")
	b.WriteString(year(c.Year))
	b.WriteString("). ")

	title := strings.TrimSpace(c.Title)
	if title == "" {
		title = "Untitled"
	}
	b.WriteString("*" + strings.TrimRight(title, ".") + "*.")
	if venue := strings.TrimSpace(c.Venue); venue != "" {
		b.WriteString(" *" + strings.TrimRight(venue, ".") + "*.")
	}
	if doi := types.NormalizeDOI(c.DOI); doi != "" {
		b.WriteString(" https://doi.org/" + doi)
	}
	return b.String()
}

func year(y int) string {
	if y <= 0 {
		return "n.d."
	}
	return strconv.Itoa(y)
}

func authorList(authors []string, short bool) string {
	names := make([]string, 0, len(authors))
	for _, a := range authors {
		if n := AuthorName(a); n != "" {
			names = append(names, n)
		}
	}
	switch {
	case len(names) == 0:
		return "Unknown"
	case len(names) == 1:
		return names[0]
	case len(names) == 2:
		return names[0] + ", & " + names[1]
	case short:
		return names[0] + ", et al."
	default:
		return strings.Join(names[:len(names)-1], ", ") + ", & " + names[len(names)-1]
	}
}

// AuthorName renders an author as "Family, G. N.". Input may be
// "Family, Given Names", "Given Names Family" or a single name, which is
// kept as is.
func AuthorName(author string) string {
	author = strings.Join(strings.Fields(author), " ")
	if author == "" {
		return ""
	}
	var family, given string
	if i := strings.Index(author, ","); i >= 0 {
		family, given = strings.TrimSpace(author[:i]), strings.TrimSpace(author[i+1:])
	} else if i := strings.LastIndex(author, " "); i >= 0 {
		family, given = author[i+1:], author[:i]
	} else {
		return author
	}
	if given == "" {
		return family
	}
	return family + ", " + initials(given)
}

// initials turns "John Ronald" into "J. R." and "Jean-Paul" into "J.-P.".
func initials(given string) string {
	var parts []string
	for _, name := range strings.Fields(given) {
		var hy []string
		for _, p := range strings.Split(name, "-") {
			r, _ := utf8.DecodeRuneInString(p)
			if r == utf8.RuneError || !unicode.IsLetter(r) {
				continue
			}
			hy = append(hy, string(unicode.ToUpper(r))+".")
		}
		if len(hy) > 0 {
			parts = append(parts, strings.Join(hy, "-"))
		}
	}
	return strings.Join(parts, " ")
}
