// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package rank merges the candidates of a search cycle into unique
// sources, scores them and selects the top of the list.
//
// Dedup runs in two passes: records sharing a normalized DOI merge first;
// records without a DOI then merge on (title prefix, first-author surname,
// year), joining a DOI group when that group carries the same key.
package rank

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/academic-agent/pkg/types"
)

// DefaultTargetTotal is used when the research config sets no target.
const DefaultTargetTotal = 27

// DefaultCategory is assigned to every ranked source.
const DefaultCategory = "Primary"

// DefaultWeights are the score weights used when none are configured.
var DefaultWeights = types.RankingWeights{Recency: 0.25, Citations: 0.35, Authority: 0.2, Coverage: 0.2}

// Options controls screening, scoring and truncation.
type Options struct {
	Weights           types.RankingWeights
	MinYear           int
	CitationThreshold int

	// MinScore drops sources whose total is below it.
	MinScore    float64
	TargetTotal int

	Question string
	Clusters []types.Cluster

	// Year is the current year for recency; zero means time.Now.
	Year int

	// Enrich, when set, completes the metadata of merged sources before
	// they are screened and scored.
	Enrich Enricher
}

// FromConfig derives options from the research config and weights.
func FromConfig(rc types.ResearchConfig, w types.RankingWeights) Options {
	return Options{
		Weights:           w,
		MinYear:           rc.MinYear,
		CitationThreshold: rc.CitationThreshold,
		MinScore:          float64(rc.MinScore),
		TargetTotal:       rc.TargetTotal,
		Question:          rc.ResearchQuestion,
		Clusters:          rc.Clusters,
	}
}

// PostProcessor adjusts the ordered list before truncation, e.g. to
// balance the portfolio. None is registered by default.
type PostProcessor func(ctx context.Context, ranked []types.RankedSource) ([]types.RankedSource, error)

// Result is the outcome of Rank.
type Result struct {
	Sources []types.RankedSource

	Collected int // raw candidates in
	Unique    int // after dedup
	Screened  int // after year and score screening
}

// Rank deduplicates, screens, scores and orders cands, then truncates the
// list to the target total and numbers the survivors.
func Rank(ctx context.Context, cands []types.Candidate, opts Options, post ...PostProcessor) (*Result, error) {
	if opts.Year == 0 {
		opts.Year = time.Now().Year()
	}
	res := &Result{Collected: len(cands)}
	merged := Dedup(cands)
	res.Unique = len(merged)
	if opts.Enrich != nil {
		var err error
		if merged, err = opts.Enrich(ctx, merged); err != nil {
			return nil, fmt.Errorf("enriching sources: %w", err)
		}
	}

	var kept []types.RankedSource
	for _, s := range merged {
		if opts.MinYear > 0 && s.Year > 0 && s.Year < opts.MinYear {
			continue
		}
		s.Score = Score(s.Candidate, opts)
		if s.Score.Total < opts.MinScore {
			continue
		}
		s.Category = DefaultCategory
		kept = append(kept, s)
	}
	res.Screened = len(kept)
	Sort(kept)

	for _, p := range post {
		var err error
		if kept, err = p(ctx, kept); err != nil {
			return nil, fmt.Errorf("post-processing ranked sources: %w", err)
		}
	}

	target := opts.TargetTotal
	if target <= 0 {
		target = DefaultTargetTotal
	}
	if len(kept) > target {
		kept = kept[:target]
	}
	for i := range kept {
		kept[i].Rank = i + 1
		kept[i].ID = SourceID(i + 1)
	}
	res.Sources = kept
	return res, nil
}

// SourceID formats the run-local id of the n-th ranked source.
func SourceID(n int) string { return fmt.Sprintf("S%02d", n) }

// Sort orders sources by total score, then citations, then year (newer
// first), then DOI. Sources without a DOI sort after those with one.
func Sort(s []types.RankedSource) {
	sort.SliceStable(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if a.Score.Total != b.Score.Total {
			return a.Score.Total > b.Score.Total
		}
		if a.Citations != b.Citations {
			return a.Citations > b.Citations
		}
		if a.Year != b.Year {
			return a.Year > b.Year
		}
		if (a.DOI == "") != (b.DOI == "") {
			return a.DOI != ""
		}
		if a.DOI != b.DOI {
			return a.DOI < b.DOI
		}
		return a.Title < b.Title
	})
}

// fuzzyKey is the title/author/year key of c.
func fuzzyKey(c types.Candidate) string {
	return types.TitlePrefix(c.Title) + "|" + types.FirstAuthorSurname(c.Authors) + "|" + strconv.Itoa(c.Year)
}

// Dedup merges duplicate candidates. Output order follows the first
// appearance of each source.
func Dedup(cands []types.Candidate) []types.RankedSource {
	var out []types.RankedSource
	byDOI := map[string]int{}
	byFuzzy := map[string]int{}

	add := func(c types.Candidate) int {
		out = append(out, types.RankedSource{Candidate: c, MergedFrom: 1})
		return len(out) - 1
	}

	// First pass: records with a DOI.
	for _, c := range cands {
		doi := types.NormalizeDOI(c.DOI)
		if doi == "" {
			continue
		}
		c.DOI = doi
		if i, ok := byDOI[doi]; ok {
			out[i].Candidate = Merge(out[i].Candidate, c)
			out[i].MergedFrom++
			continue
		}
		i := add(c)
		byDOI[doi] = i
		if _, ok := byFuzzy[fuzzyKey(c)]; !ok {
			byFuzzy[fuzzyKey(c)] = i
		}
	}

	// Second pass: records without one.
	for _, c := range cands {
		if types.NormalizeDOI(c.DOI) != "" {
			continue
		}
		c.DOI = ""
		k := fuzzyKey(c)
		if i, ok := byFuzzy[k]; ok {
			out[i].Candidate = Merge(out[i].Candidate, c)
			out[i].MergedFrom++
			continue
		}
		byFuzzy[k] = add(c)
	}
	return out
}

// Merge folds b into a field by field: a non-empty value beats an empty
// one, the longer abstract wins and the citation count takes the maximum.
// Database and source come from the record of higher authority.
func Merge(a, b types.Candidate) types.Candidate {
	if a.DOI == "" {
		a.DOI = b.DOI
	}
	if (a.Title == "" || a.Title == "Untitled") && b.Title != "" {
		a.Title = b.Title
	}
	if len(a.Authors) == 0 {
		a.Authors = b.Authors
	}
	if a.Year == 0 {
		a.Year = b.Year
	}
	if a.Venue == "" {
		a.Venue = b.Venue
	}
	if len([]rune(b.Abstract)) > len([]rune(a.Abstract)) {
		a.Abstract = b.Abstract
	}
	if b.Citations > a.Citations {
		a.Citations = b.Citations
	}
	if a.URL == "" {
		a.URL = b.URL
	}
	if a.PDFURL == "" {
		a.PDFURL = b.PDFURL
	}
	if len(a.Raw) == 0 {
		a.Raw = b.Raw
	}
	if databaseAuthority(b) > databaseAuthority(a) {
		a.Database, a.Source, a.SourceType = b.Database, b.Source, b.SourceType
	}
	return a
}

// CheckUnique reports the first pair of sources that share a DOI or,
// without DOIs, a title/author/year key.
func CheckUnique(sources []types.RankedSource) error {
	seen := map[string]string{}
	for _, s := range sources {
		k := s.Key()
		if prev, ok := seen[k]; ok {
			return fmt.Errorf("sources %s and %s share key %s", prev, s.ID, k)
		}
		seen[k] = s.ID
	}
	return nil
}

// authorityBySource rates the back-ends a record can come from.
var authorityBySource = map[string]float64{
	"crossref":         1.0,
	"pubmed":           1.0,
	"semantic_scholar": 0.8,
	"openalex":         0.8,
	"arxiv":            0.6,
}

const dbisAuthority = 1.0

// venueKeywords mark established publishers and venue types.
var venueKeywords = []string{"ieee", "acm", "springer", "nature", "science", "transactions", "journal", "conference", "symposium"}

func databaseAuthority(c types.Candidate) float64 {
	if c.SourceType == types.SourceDBIS {
		return dbisAuthority
	}
	if a, ok := authorityBySource[strings.ToLower(c.Source)]; ok {
		return a
	}
	return 0.5
}

func venueAuthority(venue string) float64 {
	v := strings.ToLower(venue)
	if strings.TrimSpace(v) == "" {
		return 0.5
	}
	matches := 0
	for _, k := range venueKeywords {
		if strings.Contains(v, k) {
			matches++
		}
	}
	return math.Max(math.Min(float64(matches)/3, 1), 0.3)
}

// Score computes the score vector of c. Components are in [0,1]; Total is
// their weighted mean scaled to [0,5].
func Score(c types.Candidate, opts Options) types.ScoreVector {
	year := opts.Year
	if year == 0 {
		year = time.Now().Year()
	}
	v := types.ScoreVector{
		Recency:   recency(c.Year, opts.MinYear, year),
		Citations: citations(c.Citations, opts.CitationThreshold),
		Authority: (databaseAuthority(c) + venueAuthority(c.Venue)) / 2,
		Coverage:  coverage(c, opts.Clusters, opts.Question),
	}
	w := opts.Weights
	sum := w.Recency + w.Citations + w.Authority + w.Coverage
	if sum <= 0 || w.Recency < 0 || w.Citations < 0 || w.Authority < 0 || w.Coverage < 0 {
		w = DefaultWeights
		sum = 1
	}
	total := (w.Recency*v.Recency + w.Citations*v.Citations + w.Authority*v.Authority + w.Coverage*v.Coverage) / sum
	v.Total = math.Round(total*5*1000) / 1000
	return v
}

// recency is linear from the min-year floor to the current year, or an
// exponential decay with a five year half-life when no floor is set.
func recency(pub, minYear, now int) float64 {
	if pub == 0 {
		return 0.5
	}
	if minYear > 0 {
		if pub < minYear {
			return 0
		}
		if now <= minYear {
			return 1
		}
		return clamp(float64(pub-minYear) / float64(now-minYear))
	}
	return clamp(math.Exp(-float64(now-pub) / 5))
}

// citations saturates at the threshold on a log scale; without a
// threshold it saturates at 1000.
func citations(n, threshold int) float64 {
	if n <= 0 {
		return 0
	}
	limit := threshold
	if limit <= 0 {
		limit = 1000
	}
	if n >= limit {
		return 1
	}
	return clamp(math.Log1p(float64(n)) / math.Log1p(float64(limit)))
}

// coverage is the share of clusters with at least one keyword in the
// title or abstract. Without clusters the question's longer words count.
func coverage(c types.Candidate, clusters []types.Cluster, question string) float64 {
	text := strings.ToLower(c.Title + " " + c.Abstract)
	if len(clusters) > 0 {
		hit, total := 0, 0
		for _, cl := range clusters {
			if len(cl.Keywords) == 0 {
				continue
			}
			total++
			for _, k := range cl.Keywords {
				if k = strings.ToLower(strings.TrimSpace(k)); k != "" && strings.Contains(text, k) {
					hit++
					break
				}
			}
		}
		if total > 0 {
			return float64(hit) / float64(total)
		}
	}
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(question)) {
		w = strings.Trim(w, "?!.,;:\"'()")
		if len([]rune(w)) > 3 {
			terms = append(terms, w)
		}
	}
	if len(terms) == 0 {
		return 0.5
	}
	hit := 0
	for _, t := range terms {
		if strings.Contains(text, t) {
			hit++
		}
	}
	return float64(hit) / float64(len(terms))
}

func clamp(f float64) float64 { return math.Max(0, math.Min(1, f)) }
