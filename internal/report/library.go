// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/pdiddy/academic-agent/pkg/types"
)

// LibraryFile is the quote library inside a run directory.
const LibraryFile = "quote_library.csv"

// LibraryHeader lists the quote library columns in order.
var LibraryHeader = []string{
	"ID", "APA-7 Zitat", "Dokumenttyp", "Datenbank", "DOI", "Zitat",
	"Seite", "Kontext", "Relevanz", "Status", "Dateiname",
}

// quoteStatus marks quotes that have not yet been placed in the text.
const quoteStatus = "Extracted"

// WriteLibrary writes one CSV row per quote. Every quote must belong to
// one of sources.
func WriteLibrary(w io.Writer, sources []types.RankedSource, quotes []types.Quote) error {
	byID := make(map[string]types.RankedSource, len(sources))
	for _, s := range sources {
		byID[s.ID] = s
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(LibraryHeader); err != nil {
		return err
	}
	for _, q := range quotes {
		s, ok := byID[q.SourceID]
		if !ok {
			return fmt.Errorf("quote %s: unknown source %q", q.ID, q.SourceID)
		}
		row := []string{
			q.ID,
			ShortCitation(s.Candidate),
			orDefault(s.Category, "Primary"),
			s.Database,
			types.NormalizeDOI(s.DOI),
			q.Text,
			q.Page,
			q.Context,
			q.Relevance,
			quoteStatus,
			q.Filename,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
