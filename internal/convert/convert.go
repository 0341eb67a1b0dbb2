// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package convert extracts page text from downloaded PDFs so extracted
// quotes can be checked against the paper. Back-ends are pluggable: the
// host's pdftotext or a markitdown container.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pdiddy/academic-agent/internal/container"
)

// pageBreak separates pages in converter output and in cached text files.
const pageBreak = "\f"

// Converter turns a PDF into plain text, pages separated by form feeds.
// A back-end that cannot tell pages apart returns the text as one page.
type Converter interface {
	Name() string
	Convert(ctx context.Context, pdfPath string) (string, error)
}

// Text is the extracted text of one PDF.
type Text struct {
	// Pages holds one entry per page; page n is Pages[n-1].
	Pages []string
}

// Parse splits converter output into pages. Trailing blank pages are
// dropped.
func Parse(raw string) Text {
	pages := strings.Split(raw, pageBreak)
	for len(pages) > 0 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	return Text{Pages: pages}
}

// Empty reports whether no page holds any text.
func (t Text) Empty() bool {
	for _, p := range t.Pages {
		if strings.TrimSpace(p) != "" {
			return false
		}
	}
	return true
}

// Paged reports whether the text carries page boundaries.
func (t Text) Paged() bool { return len(t.Pages) > 1 }

func (t Text) String() string { return strings.Join(t.Pages, pageBreak) }

// Extract returns the text of pdfPath. The text is cached in
// cacheDir/<name>.txt and reused while it is newer than the PDF.
func Extract(ctx context.Context, c Converter, pdfPath, cacheDir string) (Text, error) {
	base := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	txtPath := filepath.Join(cacheDir, base+".txt")

	changed, err := hasChanged(pdfPath, txtPath)
	if err != nil {
		return Text{}, err
	}
	if !changed {
		data, err := os.ReadFile(txtPath)
		if err != nil {
			return Text{}, fmt.Errorf("reading cached text: %w", err)
		}
		return Parse(string(data)), nil
	}

	raw, err := c.Convert(ctx, pdfPath)
	if err != nil {
		return Text{}, fmt.Errorf("converting %s with %s: %w", filepath.Base(pdfPath), c.Name(), err)
	}
	text := Parse(raw)
	if text.Empty() {
		return Text{}, fmt.Errorf("%s produced no text for %s", c.Name(), filepath.Base(pdfPath))
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return Text{}, fmt.Errorf("creating text directory: %w", err)
	}
	if err := os.WriteFile(txtPath, []byte(text.String()), 0o644); err != nil {
		return Text{}, fmt.Errorf("writing text: %w", err)
	}
	return text, nil
}

// hasChanged reports whether the PDF is newer than its cached text, or
// the text does not exist yet.
func hasChanged(pdfPath, txtPath string) (bool, error) {
	pdfInfo, err := os.Stat(pdfPath)
	if err != nil {
		return false, fmt.Errorf("stat PDF %s: %w", pdfPath, err)
	}
	txtInfo, err := os.Stat(txtPath)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat text %s: %w", txtPath, err)
	}
	return pdfInfo.ModTime().After(txtInfo.ModTime()), nil
}

// Detect returns the first available back-end: pdftotext on PATH, then
// markitdown in a container.
func Detect(ctx context.Context) (Converter, error) {
	if bin, err := exec.LookPath(binPdftotext); err == nil {
		return &Pdftotext{Bin: bin}, nil
	}
	rt, err := container.DetectRuntime(ctx)
	if err != nil {
		return nil, fmt.Errorf("no PDF text back-end: %s not on PATH and %w", binPdftotext, err)
	}
	return NewMarkitdown(ctx, rt)
}
