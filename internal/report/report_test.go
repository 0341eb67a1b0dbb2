// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/academic-agent/pkg/types"
)

func TestCitation(t *testing.T) {
	tests := []struct {
		name  string
		c     types.Candidate
		full  string
		short string
	}{
		{
			name:  "single author",
			c:     types.Candidate{Authors: []string{"Smith, J."}, Year: 2024, Title: "Title"},
			full:  "Smith, J. (2024). *Title*.",
			short: "Smith, J. (2024). *Title*.",
		},
		{
			name:  "two authors with venue and DOI",
			c:     types.Candidate{Authors: []string{"Smith, John", "Jane Doe"}, Title: "A Study.", Venue: "IEEE Software", DOI: "https://doi.org/10.1109/MS.2024.1"},
			full:  "Smith, J., & Doe, J. (n.d.). *A Study*. *IEEE Software*. https://doi.org/10.1109/ms.2024.1",
			short: "Smith, J., & Doe, J. (n.d.). *A Study*. *IEEE Software*. https://doi.org/10.1109/ms.2024.1",
		},
		{
			name:  "three authors",
			c:     types.Candidate{Authors: []string{"Smith, J.", "Doe, A.", "Roe, B."}, Year: 2023, Title: "T"},
			full:  "Smith, J., Doe, A., & Roe, B. (2023). *T*.",
			short: "Smith, J., et al. (2023). *T*.",
		},
		{
			name:  "no authors no title",
			c:     types.Candidate{Year: 2020},
			full:  "Unknown (2020). *Untitled*.",
			short: "Unknown (2020). *Untitled*.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.full, Citation(tt.c))
			assert.Equal(t, tt.short, ShortCitation(tt.c))
		})
	}
}

func TestAuthorName(t *testing.T) {
	tests := map[string]string{
		"Smith, J.":                 "Smith, J.",
		"Jean-Paul Sartre":          "Sartre, J.-P.",
		"Plato":                     "Plato",
		"  van Dijk,  Jan  Willem ": "van Dijk, J. W.",
		"Müller, Özge":              "Müller, Ö.",
		"Doe,":                      "Doe",
		"":                          "",
	}
	for in, want := range tests {
		assert.Equal(t, want, AuthorName(in), "AuthorName(%q)", in)
	}
}

func TestKeyStatement(t *testing.T) {
	assert.Equal(t, "Kein Abstract verfügbar.", KeyStatement("  "))
	assert.Equal(t, "Short abstract.", KeyStatement("Short\n abstract."))

	long := KeyStatement(strings.Repeat("ä", 350))
	assert.Equal(t, strings.Repeat("ä", 300)+"...", long)
}

func sampleSources() []types.RankedSource {
	return []types.RankedSource{
		{
			ID: "S01", Rank: 1, Category: "Primary",
			Candidate: types.Candidate{
				DOI: "10.1109/tse.2021.1", Title: "DevOps Governance", Authors: []string{"Smith, John", "Doe, Alice"},
				Year: 2021, Venue: "IEEE Transactions on Software Engineering", Database: "CrossRef",
				Citations: 42, Abstract: "Governance in pipelines.",
			},
			Score: types.ScoreVector{Total: 4.3},
		},
		{
			ID: "S02", Rank: 2,
			Candidate: types.Candidate{
				Title: "Compliance as Code", Authors: []string{"Roe"}, Database: "OpenAlex",
				Venue: "Proceedings of the ICSE Conference",
			},
			Score: types.ScoreVector{Total: 3.0},
		},
	}
}

func sampleQuotes() []types.Quote {
	return []types.Quote{
		{ID: "Q001", SourceID: "S01", Text: "Policies are code.", Page: "4", Context: "Section 3", Relevance: "defines governance", Filename: "Smith_2021_DevOps_Governance.pdf"},
		{ID: "Q002", SourceID: "S01", Text: "Audits are automated, \"always\".", Page: "5"},
	}
}

func TestWriteBibliography(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, WriteBibliography(&buf, "How is governance done?", sampleSources(), sampleQuotes(), now))
	out := buf.String()

	for _, want := range []string{
		"**Forschungsfrage:** How is governance done?",
		"**Erstellt:** 2026-03-01",
		"## 1. Smith, J., & Doe, A. (2021). *DevOps Governance*. *IEEE Transactions on Software Engineering*. https://doi.org/10.1109/tse.2021.1",
		"**Kernaussage:** Governance in pipelines.",
		"- Kategorie: Primary",
		"- Zitationen: 42",
		"- Qualitäts-Score: 4.3/5.0",
		"- Datenbank: CrossRef",
		"- TBD (wird beim Schreiben festgelegt)",
		"**Zitate in Quote Library:** Q001, Q002",
		"## 2. Roe (n.d.). *Compliance as Code*.",
		"**Kernaussage:** Kein Abstract verfügbar.",
		"**Zitate in Quote Library:** Keine extrahiert",
	} {
		assert.Contains(t, out, want)
	}
	assert.Equal(t, 2, strings.Count(out, "**Einsatzstelle:**"))
}

func TestWriteLibrary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLibrary(&buf, sampleSources(), sampleQuotes()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, LibraryHeader, rows[0])
	assert.Equal(t, []string{
		"Q001", "Smith, J., & Doe, A. (2021). *DevOps Governance*. *IEEE Transactions on Software Engineering*. https://doi.org/10.1109/tse.2021.1",
		"Primary", "CrossRef", "10.1109/tse.2021.1", "Policies are code.", "4", "Section 3", "defines governance", "Extracted",
		"Smith_2021_DevOps_Governance.pdf",
	}, rows[1])
	assert.Equal(t, `Audits are automated, "always".`, rows[2][5])
}

func TestWriteLibrary_UnknownSource(t *testing.T) {
	var buf bytes.Buffer
	err := WriteLibrary(&buf, sampleSources(), []types.Quote{{ID: "Q001", SourceID: "S99"}})
	assert.ErrorContains(t, err, "S99")
}

func TestWriteCSL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSL(&buf, sampleSources()))

	var got []CSLItem
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	want := []CSLItem{
		{
			ID: "S01", Type: "article-journal", Title: "DevOps Governance",
			Author:         []CSLName{{Family: "Smith", Given: "John"}, {Family: "Doe", Given: "Alice"}},
			ContainerTitle: "IEEE Transactions on Software Engineering",
			Abstract:       "Governance in pipelines.",
			Issued:         &CSLDate{DateParts: [][]int{{2021}}},
			DOI:            "10.1109/tse.2021.1",
			Note:           "Datenbank: CrossRef",
		},
		{
			ID: "S02", Type: "paper-conference", Title: "Compliance as Code",
			Author:         []CSLName{{Literal: "Roe"}},
			ContainerTitle: "Proceedings of the ICSE Conference",
			Note:           "Datenbank: OpenAlex",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CSL mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteAll(t *testing.T) {
	dir := t.TempDir()
	files, err := WriteAll(dir, "Q?", sampleSources(), sampleQuotes())
	require.NoError(t, err)
	for _, p := range []string{files.Bibliography, files.Library, files.CSL, files.BibTeX} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
	tmps, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, tmps)

	_, err = WriteAll(dir, "Q?", nil, sampleQuotes())
	assert.Error(t, err)
}

func TestCitationKeys(t *testing.T) {
	sources := []types.RankedSource{
		{ID: "S01", Candidate: types.Candidate{Authors: []string{"Müller, Jörg"}, Year: 2021, Title: "The Governance of Pipelines"}},
		{ID: "S02", Candidate: types.Candidate{Authors: []string{"Jörg Müller"}, Year: 2021, Title: "Governance, revisited"}},
		{ID: "S03", Candidate: types.Candidate{Title: "On CI"}},
	}
	assert.Equal(t, map[string]string{
		"S01": "muller2021governance",
		"S02": "muller2021governanceb",
		"S03": "anonndci",
	}, CitationKeys(sources))
}

func TestWriteBibTeX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBibTeX(&buf, sampleSources()))
	out := buf.String()
	assert.Contains(t, out, "@article{smith2021devops,\n")
	assert.Contains(t, out, "  author = {Smith, John and Doe, Alice},\n")
	assert.Contains(t, out, "  journal = {IEEE Transactions on Software Engineering},\n")
	assert.Contains(t, out, "  doi = {10.1109/tse.2021.1},\n")
	assert.Contains(t, out, "@inproceedings{roendcompliance,\n")
	assert.Contains(t, out, "  booktitle = {Proceedings of the ICSE Conference},\n")
}
