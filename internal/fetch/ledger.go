// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/pdiddy/academic-agent/pkg/types"
)

// LedgerPath is the download log location relative to the run directory.
const LedgerPath = "downloads/downloads.json"

// ledgerFile is the on-disk form of the download log.
type ledgerFile struct {
	UpdatedAt time.Time              `json:"updated_at"`
	Records   []types.DownloadRecord `json:"records"`
}

// Ledger is the run's download log. One record is kept per paper key;
// writing a record for a key replaces the earlier one.
type Ledger struct {
	path string

	mu      sync.Mutex
	records []types.DownloadRecord
	index   map[string]int
}

// OpenLedger loads the download log of runDir, or returns an empty one
// when none exists yet.
func OpenLedger(runDir string) (*Ledger, error) {
	l := &Ledger{path: filepath.Join(runDir, LedgerPath), index: map[string]int{}}
	recs, err := ReadLedger(runDir)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		l.put(r)
	}
	return l, nil
}

// ReadLedger returns the records of runDir's download log. A missing log
// yields no records and no error.
func ReadLedger(runDir string) ([]types.DownloadRecord, error) {
	data, err := os.ReadFile(filepath.Join(runDir, LedgerPath))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading download log: %w", err)
	}
	var f ledgerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing download log: %w", err)
	}
	return f.Records, nil
}

// Records returns a copy of the records in insertion order.
func (l *Ledger) Records() []types.DownloadRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.DownloadRecord(nil), l.records...)
}

// Downloaded returns the record for key when it succeeded and its PDF is
// still on disk with an acceptable size.
func (l *Ledger) Downloaded(key string) (types.DownloadRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[key]
	if !ok || !l.records[i].Succeeded() {
		return types.DownloadRecord{}, false
	}
	rec := l.records[i]
	fi, err := os.Stat(rec.Artifact.Path)
	if err != nil || fi.Size() < MinPDFBytes {
		return types.DownloadRecord{}, false
	}
	return rec, true
}

// Put stores rec and rewrites the log.
func (l *Ledger) Put(rec types.DownloadRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.put(rec)
	return l.save()
}

func (l *Ledger) put(rec types.DownloadRecord) {
	if i, ok := l.index[rec.PaperKey]; ok {
		l.records[i] = rec
		return
	}
	l.index[rec.PaperKey] = len(l.records)
	l.records = append(l.records, rec)
}

// save writes the log atomically through a temp file.
func (l *Ledger) save() error {
	data, err := json.MarshalIndent(ledgerFile{UpdatedAt: time.Now().UTC(), Records: l.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling download log: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating downloads directory: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing download log: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replacing download log: %w", err)
	}
	return nil
}

// Verify checks the artifact integrity of a download log: every
// successful record's file exists with at least MinPDFBytes, and no path
// is claimed by two records.
func Verify(records []types.DownloadRecord) error {
	seen := map[string]string{}
	var errs []error
	for _, r := range records {
		if r.Artifact == nil {
			continue
		}
		p := filepath.Clean(r.Artifact.Path)
		if other, dup := seen[p]; dup {
			errs = append(errs, fmt.Errorf("%s recorded for both %s and %s", p, other, r.PaperKey))
			continue
		}
		seen[p] = r.PaperKey
		fi, err := os.Stat(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.PaperKey, err))
			continue
		}
		if fi.Size() < MinPDFBytes {
			errs = append(errs, fmt.Errorf("%s: %s has %d bytes", r.PaperKey, p, fi.Size()))
		}
	}
	return multierr.Combine(errs...)
}
