// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/pdiddy/academic-agent/internal/httputil"
	"github.com/pdiddy/academic-agent/pkg/types"
)

// MinPDFBytes is the smallest body accepted as a PDF.
const MinPDFBytes = 1024

// maxPDFBytes caps a download held in memory.
const maxPDFBytes = 200 << 20

const (
	maxSlugWords = 6
	maxSlugLen   = 60
)

var pdfMagic = []byte("%PDF")

// Accept applies the acceptance rules to a downloaded document: HTTP 200,
// at least MinPDFBytes, and a PDF content type. A generic binary content
// type is accepted when the body starts with the PDF magic bytes.
func Accept(doc *Document) (types.Outcome, error) {
	if doc.Status != http.StatusOK {
		return types.OutcomeHTTPStatus, &statusErr{code: doc.Status, url: doc.URL}
	}
	if len(doc.Body) < MinPDFBytes {
		return types.OutcomeEmpty, fmt.Errorf("body too small (%d bytes) from %s", len(doc.Body), doc.URL)
	}
	mt := mediaType(doc.ContentType)
	switch {
	case strings.Contains(mt, "pdf"):
		return types.OutcomeSuccess, nil
	case (mt == "" || mt == "application/octet-stream" || mt == "binary/octet-stream") && bytes.HasPrefix(doc.Body, pdfMagic):
		return types.OutcomeSuccess, nil
	}
	if mt == "" {
		mt = "unknown"
	}
	return types.OutcomeBlocked, fmt.Errorf("not a PDF (content type %s) from %s", mt, doc.URL)
}

func mediaType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt, _, _ = strings.Cut(ct, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// get issues a GET and returns the response as a Document regardless of
// its status. Transient failures are retried once.
func get(ctx context.Context, client *http.Client, rawURL string, header http.Header) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/pdf,*/*;q=0.8")
	}
	resp, err := httputil.DoWithRetry(ctx, defaultClient(client), req, 1)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rawURL, err)
	}
	final := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return &Document{
		URL:         final,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// WritePDF writes body to path through a temp file in the same directory
// and renames it into place, so a partially written file never carries the
// final name.
func WritePDF(path string, body []byte) (*types.PDFArtifact, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".download-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("writing PDF: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("renaming PDF: %w", err)
	}
	sum := sha256.Sum256(body)
	return &types.PDFArtifact{
		Path:   path,
		Bytes:  int64(len(body)),
		SHA256: hex.EncodeToString(sum[:]),
	}, nil
}

// Filename returns the deterministic PDF name
// <Author>_<Year>_<TitleSlug>.pdf for a source.
func Filename(src types.RankedSource) string {
	author := alnum(types.Surname(firstOr(src.Authors, "")))
	if author == "" {
		author = "Unknown"
	}
	year := "nd"
	if src.Year > 0 {
		year = strconv.Itoa(src.Year)
	}
	slug := titleSlug(src.Title)
	if slug == "" {
		slug = "Untitled"
	}
	return author + "_" + year + "_" + slug + ".pdf"
}

func firstOr(ss []string, def string) string {
	if len(ss) == 0 {
		return def
	}
	return ss[0]
}

func alnum(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		} else if f, ok := asciiFold[r]; ok {
			b.WriteString(f)
		}
	}
	return b.String()
}

var asciiFold = map[rune]string{
	'ä': "ae", 'ö': "oe", 'ü': "ue", 'Ä': "Ae", 'Ö': "Oe", 'Ü': "Ue", 'ß': "ss",
	'é': "e", 'è': "e", 'ê': "e", 'á': "a", 'à': "a", 'â': "a", 'ó': "o", 'ò': "o",
	'í': "i", 'ñ': "n", 'ç': "c", 'ø': "o", 'å': "a", 'č': "c", 'š': "s", 'ž': "z",
}

// titleSlug capitalizes the first words of title and joins them with "_".
func titleSlug(title string) string {
	words := strings.FieldsFunc(title, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var parts []string
	n := 0
	for _, w := range words {
		w = alnum(w)
		if w == "" {
			continue
		}
		w = strings.ToUpper(w[:1]) + w[1:]
		if len(parts) == maxSlugWords || n+len(w) > maxSlugLen {
			break
		}
		parts = append(parts, w)
		n += len(w) + 1
	}
	return strings.Join(parts, "_")
}

// PlanFilenames assigns every source a PDF name in dir, in source order.
// Sources already downloaded keep their recorded name. A name already
// taken by another source or by a foreign file on disk gets a numeric
// suffix (_2, _3, ...).
func PlanFilenames(dir string, sources []types.RankedSource, ledger *Ledger) (map[string]string, error) {
	taken := map[string]string{} // name -> paper key
	for _, rec := range ledger.Records() {
		if rec.Artifact != nil {
			taken[filepath.Base(rec.Artifact.Path)] = rec.PaperKey
		}
	}
	out := make(map[string]string, len(sources))
	for _, src := range sources {
		key := src.Key()
		if rec, ok := ledger.Downloaded(key); ok {
			out[key] = filepath.Base(rec.Artifact.Path)
			continue
		}
		base := Filename(src)
		stem := strings.TrimSuffix(base, ".pdf")
		name := base
		for n := 2; ; n++ {
			owner, used := taken[name]
			if used && owner == key {
				break
			}
			if !used {
				_, err := os.Stat(filepath.Join(dir, name))
				if os.IsNotExist(err) {
					break
				}
				if err != nil {
					return nil, fmt.Errorf("checking %s: %w", name, err)
				}
			}
			name = stem + "_" + strconv.Itoa(n) + ".pdf"
		}
		taken[name] = key
		out[key] = name
	}
	return out, nil
}
