// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pdiddy/academic-agent/pkg/types"
)

// Files are the paths of the artifacts written by WriteAll.
type Files struct {
	Bibliography string `json:"bibliography"`
	Library      string `json:"quote_library"`
	CSL          string `json:"csl"`
	BibTeX       string `json:"bibtex"`
}

// WriteAll writes the bibliography, the quote library and the CSL and
// BibTeX exports into runDir. Each file is replaced atomically.
func WriteAll(runDir, question string, sources []types.RankedSource, quotes []types.Quote) (Files, error) {
	files := Files{
		Bibliography: filepath.Join(runDir, BibliographyFile),
		Library:      filepath.Join(runDir, LibraryFile),
		CSL:          filepath.Join(runDir, CSLFile),
		BibTeX:       filepath.Join(runDir, BibTeXFile),
	}

	var bib, lib, csl, bibtex bytes.Buffer
	if err := WriteBibliography(&bib, question, sources, quotes, time.Now()); err != nil {
		return Files{}, fmt.Errorf("rendering bibliography: %w", err)
	}
	if err := WriteLibrary(&lib, sources, quotes); err != nil {
		return Files{}, fmt.Errorf("rendering quote library: %w", err)
	}
	if err := WriteCSL(&csl, sources); err != nil {
		return Files{}, fmt.Errorf("rendering CSL export: %w", err)
	}
	if err := WriteBibTeX(&bibtex, sources); err != nil {
		return Files{}, fmt.Errorf("rendering BibTeX export: %w", err)
	}

	for path, data := range map[string][]byte{
		files.Bibliography: bib.Bytes(),
		files.Library:      lib.Bytes(),
		files.CSL:          csl.Bytes(),
		files.BibTeX:       bibtex.Bytes(),
	} {
		if err := writeAtomic(path, data); err != nil {
			return Files{}, err
		}
	}
	return files, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", filepath.Base(path), err)
	}
	return nil
}
