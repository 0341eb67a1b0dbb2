// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package rank

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/academic-agent/pkg/types"
)

// Enricher completes the metadata of merged sources. It must keep the
// order and number of sources.
type Enricher func(ctx context.Context, sources []types.RankedSource) ([]types.RankedSource, error)

// DOILookup returns the registry record of doi, or nil when the registry
// does not know it.
type DOILookup func(ctx context.Context, doi string) (*types.Candidate, error)

// EnrichByDOI returns an Enricher that looks up every source carrying a
// DOI but missing authors, year or venue, and copies the missing fields
// (and a higher citation count) from the registry record. A failed lookup
// leaves the source as it was. At most limit sources are looked up; zero
// means no limit.
func EnrichByDOI(lookup DOILookup, limit int, log *zap.Logger) Enricher {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, sources []types.RankedSource) ([]types.RankedSource, error) {
		looked, filled := 0, 0
		for i := range sources {
			if !incomplete(sources[i].Candidate) {
				continue
			}
			if limit > 0 && looked == limit {
				log.Debug("enrichment limit reached", zap.Int("limit", limit))
				break
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			looked++
			rec, err := lookup(ctx, sources[i].DOI)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				log.Warn("DOI lookup failed", zap.String("doi", sources[i].DOI), zap.Error(err))
				continue
			}
			if rec == nil {
				continue
			}
			sources[i].Candidate = fill(sources[i].Candidate, *rec)
			filled++
		}
		if looked > 0 {
			log.Info("sources enriched by DOI", zap.Int("looked_up", looked), zap.Int("filled", filled))
		}
		return sources, nil
	}
}

func incomplete(c types.Candidate) bool {
	if types.NormalizeDOI(c.DOI) == "" {
		return false
	}
	return len(c.Authors) == 0 || c.Year == 0 || strings.TrimSpace(c.Venue) == ""
}

// fill copies into c what it lacks from rec. Identity fields stay as they
// were.
func fill(c, rec types.Candidate) types.Candidate {
	if len(c.Authors) == 0 {
		c.Authors = rec.Authors
	}
	if c.Year == 0 {
		c.Year = rec.Year
	}
	if strings.TrimSpace(c.Venue) == "" {
		c.Venue = rec.Venue
	}
	if strings.TrimSpace(c.Abstract) == "" {
		c.Abstract = rec.Abstract
	}
	if (c.Title == "" || c.Title == "Untitled") && rec.Title != "" {
		c.Title = rec.Title
	}
	if rec.Citations > c.Citations {
		c.Citations = rec.Citations
	}
	if c.URL == "" {
		c.URL = rec.URL
	}
	return c
}
