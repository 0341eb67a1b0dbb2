// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pdiddy/academic-agent/pkg/types"
)

const defaultSearchLimit = 20

// IndexQuotes replaces the indexed quotes of a run. The run must already
// be in the catalogue.
func (s *Store) IndexQuotes(ctx context.Context, runID string, qs []types.Quote) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM quotes WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clearing quotes of %s: %w", runID, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO quotes (run_id, quote_id, source_id, text, page, filename) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()
	for _, q := range qs {
		if _, err := stmt.ExecContext(ctx, runID, q.ID, q.SourceID, q.Text, q.Page, q.Filename); err != nil {
			return fmt.Errorf("indexing quote %s of %s: %w", q.ID, runID, err)
		}
	}
	return tx.Commit()
}

// SearchOptions holds parameters for SearchQuotes.
type SearchOptions struct {
	// Query is a full-text search string. With FTS5 it uses the FTS5
	// query syntax; otherwise it is matched as a substring.
	Query string

	// RunID restricts hits to one run.
	RunID string

	// Limit caps the result count. Zero uses 20.
	Limit int
}

// QuoteHit is an indexed quote with the question of its run.
type QuoteHit struct {
	RunID    string `json:"run_id"`
	Question string `json:"question"`
	types.Quote
}

// SearchQuotes finds indexed quotes. Full-text hits are ranked by
// relevance; otherwise hits are ordered by run and quote id.
func (s *Store) SearchQuotes(ctx context.Context, opts SearchOptions) ([]QuoteHit, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var (
		qb   strings.Builder
		args []any
	)
	useFTS := opts.Query != "" && s.fts
	if useFTS {
		qb.WriteString(
			`SELECT q.run_id, r.question, q.quote_id, q.source_id, q.text, q.page, q.filename
			FROM quotes_fts
			JOIN quotes q ON q.rowid = quotes_fts.rowid
			JOIN runs r ON r.run_id = q.run_id
			WHERE quotes_fts MATCH ?`)
		args = append(args, opts.Query)
	} else {
		qb.WriteString(
			`SELECT q.run_id, r.question, q.quote_id, q.source_id, q.text, q.page, q.filename
			FROM quotes q
			JOIN runs r ON r.run_id = q.run_id
			WHERE 1=1`)
		if opts.Query != "" {
			qb.WriteString(` AND q.text LIKE ? ESCAPE '\'`)
			args = append(args, "%"+escapeLike(opts.Query)+"%")
		}
	}
	if opts.RunID != "" {
		qb.WriteString(` AND q.run_id = ?`)
		args = append(args, opts.RunID)
	}
	if useFTS {
		qb.WriteString(` ORDER BY quotes_fts.rank`)
	} else {
		qb.WriteString(` ORDER BY q.run_id, q.quote_id`)
	}
	qb.WriteString(` LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("searching quotes: %w", err)
	}
	defer rows.Close()

	var hits []QuoteHit
	for rows.Next() {
		var (
			h                      QuoteHit
			source, page, filename sql.NullString
		)
		if err := rows.Scan(&h.RunID, &h.Question, &h.ID, &source, &h.Text, &page, &filename); err != nil {
			return nil, fmt.Errorf("scanning quote: %w", err)
		}
		h.SourceID, h.Page, h.Filename = source.String, page.String, filename.String
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
