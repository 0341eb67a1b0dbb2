// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package quotes

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pdiddy/academic-agent/pkg/types"
)

// FileName is the quote file inside a run directory.
const FileName = "quotes.json"

type quoteFile struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Question    string        `json:"question,omitempty"`
	Quotes      []types.Quote `json:"quotes"`
}

// Write saves quotes to path.
func Write(path, question string, qs []types.Quote) error {
	if qs == nil {
		qs = []types.Quote{}
	}
	data, err := json.MarshalIndent(quoteFile{
		GeneratedAt: time.Now().UTC(),
		Question:    question,
		Quotes:      qs,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling quotes: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Read loads quotes written by Write.
func Read(path string) ([]types.Quote, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading quotes: %w", err)
	}
	var qf quoteFile
	if err := json.Unmarshal(data, &qf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return qf.Quotes, nil
}
