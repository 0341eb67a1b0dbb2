// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// ScoreVector holds the per-criterion scores of a ranked candidate. Each
// component is in [0,1]; Total is the weighted sum scaled to [0,5].
type ScoreVector struct {
	Recency   float64 `json:"recency" yaml:"recency"`
	Citations float64 `json:"citations" yaml:"citations"`
	Authority float64 `json:"authority" yaml:"authority"`
	Coverage  float64 `json:"coverage" yaml:"coverage"`
	Total     float64 `json:"total" yaml:"total"`
}

// RankedSource is a deduplicated candidate with its score and rank.
type RankedSource struct {
	// ID is the stable source id within a run (e.g. "S03").
	ID   string `json:"id" yaml:"id"`
	Rank int    `json:"rank" yaml:"rank"`

	Candidate `yaml:",inline"`

	Score ScoreVector `json:"score" yaml:"score"`

	// Category classifies the source for the bibliography (e.g. "Primary").
	Category string `json:"category" yaml:"category"`

	// MergedFrom counts the raw candidates folded into this entry.
	MergedFrom int `json:"merged_from" yaml:"merged_from"`
}

// Outcome describes how a single download attempt ended.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeHTTPStatus Outcome = "http-status"
	OutcomeEmpty      Outcome = "empty"
	OutcomeBlocked    Outcome = "blocked"
	OutcomeNotFound   Outcome = "not-found"
	OutcomeError      Outcome = "error"
)

// DownloadAttempt is one strategy's try at fetching a paper's PDF.
type DownloadAttempt struct {
	PaperKey   string    `json:"paper_key"`
	Strategy   string    `json:"strategy"`
	Outcome    Outcome   `json:"outcome"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Bytes      int64     `json:"bytes"`
	SourceURL  string    `json:"source_url,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// PDFArtifact is a PDF written to the run's pdfs/ directory.
type PDFArtifact struct {
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	SHA256   string `json:"sha256"`
	Strategy string `json:"strategy"`
}

// DownloadRecord groups all attempts for one paper together with the
// artifact of the successful attempt, if any.
type DownloadRecord struct {
	PaperKey string            `json:"paper_key"`
	SourceID string            `json:"source_id,omitempty"`
	DOI      string            `json:"doi,omitempty"`
	Title    string            `json:"title"`
	Attempts []DownloadAttempt `json:"attempts"`
	Artifact *PDFArtifact      `json:"artifact,omitempty"`
}

// Succeeded reports whether the paper has a PDF on disk.
func (r DownloadRecord) Succeeded() bool { return r.Artifact != nil }

// Quote is a verbatim passage extracted from a downloaded paper.
type Quote struct {
	ID        string `json:"quote_id"`
	SourceID  string `json:"source_id"`
	SourceKey string `json:"source_key"`
	Text      string `json:"quote"`
	Page      string `json:"page,omitempty"`
	Context   string `json:"context,omitempty"`
	Relevance string `json:"relevance,omitempty"`
	Filename  string `json:"filename,omitempty"`
}
