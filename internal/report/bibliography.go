// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/pdiddy/academic-agent/pkg/types"
)

// BibliographyFile is the annotated bibliography inside a run directory.
const BibliographyFile = "bibliography.md"

// maxKeyStatement is the longest abstract excerpt, in characters.
const maxKeyStatement = 300

type bibEntry struct {
	N         int
	Citation  string
	Key       string
	Category  string
	Citations int
	Score     string
	Database  string
	QuoteIDs  string
}

var bibTmpl = template.Must(template.New("bibliography").Parse(`# Bibliographie

**Forschungsfrage:** {{.Question}}
**Erstellt:** {{.Generated}}
**Quellen:** {{.Count}}
{{range .Entries}}
## {{.N}}. {{.Citation}}

**Kernaussage:** {{.Key}}

**Einordnung:**
- Kategorie: {{.Category}}
- Zitationen: {{.Citations}}
- Qualitäts-Score: {{.Score}}/5.0
- Datenbank: {{.Database}}

**Einsatzstelle:**
- TBD (wird beim Schreiben festgelegt)

**Zitate in Quote Library:** {{.QuoteIDs}}
{{end}}`))

// WriteBibliography renders the annotated bibliography of the ranked
// sources, in rank order, with the quote ids extracted from each.
func WriteBibliography(w io.Writer, question string, sources []types.RankedSource, quotes []types.Quote, now time.Time) error {
	bySource := quoteIDs(quotes)
	entries := make([]bibEntry, len(sources))
	for i, s := range sources {
		ids := "Keine extrahiert"
		if got := bySource[s.ID]; len(got) > 0 {
			ids = strings.Join(got, ", ")
		}
		entries[i] = bibEntry{
			N:         i + 1,
			Citation:  Citation(s.Candidate),
			Key:       KeyStatement(s.Abstract),
			Category:  orDefault(s.Category, "Primary"),
			Citations: s.Citations,
			Score:     fmt.Sprintf("%.1f", s.Score.Total),
			Database:  orDefault(s.Database, "Unbekannt"),
			QuoteIDs:  ids,
		}
	}
	return bibTmpl.Execute(w, struct {
		Question  string
		Generated string
		Count     int
		Entries   []bibEntry
	}{question, now.Format("2006-01-02"), len(sources), entries})
}

// KeyStatement is the abstract cut to 300 characters, with "..." when
// cut.
func KeyStatement(abstract string) string {
	abstract = strings.Join(strings.Fields(abstract), " ")
	if abstract == "" {
		return "Kein Abstract verfügbar."
	}
	r := []rune(abstract)
	if len(r) <= maxKeyStatement {
		return abstract
	}
	return strings.TrimSpace(string(r[:maxKeyStatement])) + "..."
}

func quoteIDs(quotes []types.Quote) map[string][]string {
	m := make(map[string][]string)
	for _, q := range quotes {
		m[q.SourceID] = append(m[q.SourceID], q.ID)
	}
	return m
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
