// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package config reads the two configuration sources of a run: the
// Markdown research config written by the researcher, and the engine
// settings loaded through viper.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/academic-agent/internal/failure"
	"github.com/pdiddy/academic-agent/pkg/types"
)

// Field labels of the research config.
const (
	LabelTitle             = "Projekt-Titel"
	LabelQuestion          = "Forschungsfrage"
	LabelDatabases         = "Primary Databases"
	LabelTargetTotal       = "Target Total"
	LabelMinYear           = "Min Year"
	LabelCitationThreshold = "Citation Threshold"
	LabelMinScore          = "Min Score"
)

// ClusterCount is the number of keyword clusters a config must define.
const ClusterCount = 3

// Validation bounds.
const (
	MinYearFloor   = 2000
	MinTargetTotal = 5
	MaxTargetTotal = 50
)

// ValidationError lists every problem found in a research config.
// Missing fields come first.
type ValidationError struct {
	Missing  []string
	Problems []string
}

func (e *ValidationError) Error() string {
	var parts []string
	for _, m := range e.Missing {
		parts = append(parts, "missing required field: "+m)
	}
	parts = append(parts, e.Problems...)
	return "invalid research config: " + strings.Join(parts, "; ")
}

// All returns the missing-field messages followed by the other problems.
func (e *ValidationError) All() []string {
	out := make([]string, 0, len(e.Missing)+len(e.Problems))
	for _, m := range e.Missing {
		out = append(out, "missing required field: "+m)
	}
	return append(out, e.Problems...)
}

// Load reads and validates a research config file. Problems are returned
// as a FatalConfig failure wrapping a *ValidationError.
func Load(path string) (types.ResearchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ResearchConfig{}, failure.New(failure.KindFatalConfig, "config.Load", err)
	}
	cfg, err := Parse(string(data), time.Now())
	if err != nil {
		return cfg, failure.New(failure.KindFatalConfig, "config.Load "+path, err).
			WithAction("fix the listed fields in " + path)
	}
	return cfg, nil
}

// Parse reads a research config and validates it against now. A field's
// value is the first non-empty line after its label, skipping code fences
// and headings; a value after the label's colon on the same line is also
// accepted. List fields take every line of the block, or a comma list.
func Parse(content string, now time.Time) (types.ResearchConfig, error) {
	doc := newDocument(content)
	verr := &ValidationError{}
	var cfg types.ResearchConfig

	scalar := func(label string) (string, bool) {
		v, ok := doc.scalar(label)
		if !ok {
			verr.Missing = append(verr.Missing, label)
		}
		return v, ok
	}
	number := func(label string) int {
		v, ok := scalar(label)
		if !ok {
			return 0
		}
		n, err := leadingInt(v)
		if err != nil {
			verr.Problems = append(verr.Problems, fmt.Sprintf("%s is not a number: %q", label, v))
		}
		return n
	}

	cfg.ProjectTitle, _ = scalar(LabelTitle)
	cfg.ResearchQuestion, _ = scalar(LabelQuestion)
	for i := 1; i <= ClusterCount; i++ {
		label := fmt.Sprintf("Cluster %d", i)
		kws, ok := doc.cluster(label)
		if !ok {
			verr.Missing = append(verr.Missing, label)
			continue
		}
		cfg.Clusters = append(cfg.Clusters, types.Cluster{Name: label, Keywords: kws})
	}
	if dbs, ok := doc.list(LabelDatabases); ok {
		cfg.PrimaryDatabases = dbs
	} else {
		verr.Missing = append(verr.Missing, LabelDatabases)
	}
	cfg.TargetTotal = number(LabelTargetTotal)
	cfg.MinYear = number(LabelMinYear)
	cfg.CitationThreshold = number(LabelCitationThreshold)
	cfg.MinScore = number(LabelMinScore)

	verr.Problems = append(verr.Problems, Validate(cfg, verr.Missing, now)...)
	if len(verr.Missing) > 0 || len(verr.Problems) > 0 {
		return cfg, verr
	}
	return cfg, nil
}

// Validate checks the value rules of a parsed config. Fields listed in
// missing are not checked again.
func Validate(cfg types.ResearchConfig, missing []string, now time.Time) []string {
	skip := make(map[string]bool, len(missing))
	for _, m := range missing {
		skip[m] = true
	}
	var problems []string
	add := func(label, format string, args ...any) {
		if !skip[label] {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	if strings.TrimSpace(cfg.ProjectTitle) == "" {
		add(LabelTitle, "%s is empty", LabelTitle)
	}
	switch q := strings.TrimSpace(cfg.ResearchQuestion); {
	case q == "":
		add(LabelQuestion, "%s is empty", LabelQuestion)
	case !strings.HasSuffix(q, "?"):
		add(LabelQuestion, "%s must end with '?'", LabelQuestion)
	}
	for _, cl := range cfg.Clusters {
		if len(cl.Keywords) == 0 {
			add(cl.Name, "%s has no keywords", cl.Name)
		}
	}
	if len(cfg.PrimaryDatabases) == 0 {
		add(LabelDatabases, "%s lists no database", LabelDatabases)
	}
	if cfg.TargetTotal < MinTargetTotal || cfg.TargetTotal > MaxTargetTotal {
		add(LabelTargetTotal, "%s must be in [%d, %d], got %d", LabelTargetTotal, MinTargetTotal, MaxTargetTotal, cfg.TargetTotal)
	}
	if cfg.MinYear < MinYearFloor || cfg.MinYear > now.Year() {
		add(LabelMinYear, "%s must be in [%d, %d], got %d", LabelMinYear, MinYearFloor, now.Year(), cfg.MinYear)
	}
	if cfg.CitationThreshold < 0 {
		add(LabelCitationThreshold, "%s must not be negative, got %d", LabelCitationThreshold, cfg.CitationThreshold)
	}
	if cfg.MinScore < 0 {
		add(LabelMinScore, "%s must not be negative, got %d", LabelMinScore, cfg.MinScore)
	}
	return problems
}

var leadingIntRe = regexp.MustCompile(`^[-+]?\d+`)

// leadingInt parses the integer at the start of s, so "27 Quellen" is 27.
func leadingInt(s string) (int, error) {
	m := leadingIntRe.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, fmt.Errorf("no number in %q", s)
	}
	return strconv.Atoi(m)
}

// document is a research config split into lines.
type document struct {
	lines []string
}

func newDocument(content string) *document {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return &document{lines: strings.Split(content, "\n")}
}

// find returns the index of the first line holding label and the text
// after the label's colon on that line.
func (d *document) find(label string) (int, string, bool) {
	for i, line := range d.lines {
		at := strings.Index(line, label)
		if at < 0 {
			continue
		}
		rest := strings.ReplaceAll(line[at+len(label):], "*", "")
		if c := strings.Index(rest, ":"); c >= 0 {
			rest = rest[c+1:]
		} else {
			rest = ""
		}
		return i, clean(rest), true
	}
	return 0, "", false
}

// block returns the value lines following line i: the contents of a
// fenced block, or the first plain line. fenced reports which one was
// found. Bold sub-labels such as "**EN:**" are skipped; a heading or rule
// ends the search.
func (d *document) block(i int) (out []string, fenced bool) {
	for _, raw := range d.lines[i+1:] {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "```") {
			if fenced {
				return out, true
			}
			fenced = true
			continue
		}
		if fenced {
			if v := clean(line); v != "" {
				out = append(out, v)
			}
			continue
		}
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#"), line == "---":
			return out, false
		case isSubLabel(line):
			continue
		}
		if v := clean(line); v != "" {
			return append(out, v), false
		}
	}
	return out, fenced
}

func isSubLabel(line string) bool {
	return strings.HasPrefix(line, "**") && strings.HasSuffix(line, ":**")
}

func (d *document) scalar(label string) (string, bool) {
	i, rest, ok := d.find(label)
	if !ok {
		return "", false
	}
	if rest != "" {
		return rest, true
	}
	if b, _ := d.block(i); len(b) > 0 {
		return b[0], true
	}
	return "", true
}

func (d *document) list(label string) ([]string, bool) {
	i, rest, ok := d.find(label)
	if !ok {
		return nil, false
	}
	if rest != "" {
		return splitItems([]string{rest}), true
	}
	b, _ := d.block(i)
	return splitItems(b), true
}

// cluster returns the keywords of a cluster section. A fenced block
// holds the keywords; without one, text after the colon on the label
// line is the keyword list.
func (d *document) cluster(label string) ([]string, bool) {
	i, rest, ok := d.find(label)
	if !ok {
		return nil, false
	}
	b, fenced := d.block(i)
	switch {
	case fenced:
		return splitItems(b), true
	case rest != "":
		return splitItems([]string{rest}), true
	default:
		return splitItems(b), true
	}
}

var listMarkerRe = regexp.MustCompile(`^(?:[-*+]|\d+[.)])\s+`)

// splitItems strips list markers and splits comma lists.
func splitItems(lines []string) []string {
	var out []string
	for _, line := range lines {
		line = listMarkerRe.ReplaceAllString(strings.TrimSpace(line), "")
		for _, item := range strings.Split(line, ",") {
			if item = clean(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

func clean(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "[]`"))
}

// Format renders cfg in the inline form Parse accepts.
func Format(cfg types.ResearchConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research Config: %s\n\n", cfg.ProjectTitle)
	fmt.Fprintf(&b, "**%s:** %s\n\n", LabelTitle, cfg.ProjectTitle)
	fmt.Fprintf(&b, "**%s:** %s\n\n", LabelQuestion, cfg.ResearchQuestion)
	for i, cl := range cfg.Clusters {
		fmt.Fprintf(&b, "### Cluster %d: %s\n\n", i+1, strings.Join(cl.Keywords, ", "))
	}
	fmt.Fprintf(&b, "**%s:** %s\n\n", LabelDatabases, strings.Join(cfg.PrimaryDatabases, ", "))
	fmt.Fprintf(&b, "**%s:** %d\n", LabelTargetTotal, cfg.TargetTotal)
	fmt.Fprintf(&b, "**%s:** %d\n", LabelMinYear, cfg.MinYear)
	fmt.Fprintf(&b, "**%s:** %d\n", LabelCitationThreshold, cfg.CitationThreshold)
	fmt.Fprintf(&b, "**%s:** %d\n", LabelMinScore, cfg.MinScore)
	return b.String()
}
