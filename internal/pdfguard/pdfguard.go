// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pdfguard screens downloaded PDFs for content aimed at the model
// that reads them: prompt-injection phrases in the text or metadata,
// flooding with repeated phrases, and active content in the file.
package pdfguard

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Severity grades one finding.
type Severity string

const (
	Warning  Severity = "warning"
	Critical Severity = "critical"
)

// Risk grades a whole report.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// Finding is one suspicious observation.
type Finding struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail"`
}

func (f Finding) String() string { return fmt.Sprintf("%s %s: %s", f.Severity, f.Check, f.Detail) }

// Report is the outcome of screening one PDF.
type Report struct {
	Risk     Risk      `json:"risk_level"`
	Findings []Finding `json:"findings,omitempty"`
}

// Safe reports whether the text may be shown to the model.
func (r Report) Safe() bool { return r.Risk == RiskLow || r.Risk == RiskMedium }

type pattern struct {
	name     string
	re       *regexp.Regexp
	severity Severity
}

// Phrases addressed to the reader are critical. Shell commands are only
// warnings; technical papers quote them.
var patterns = []pattern{
	{"ignore instructions", regexp.MustCompile(`(?i)ignore\s+(all\s+)?(the\s+)?(previous|prior|above)\s+instructions?`), Critical},
	{"role takeover", regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an)\s+\w+`), Critical},
	{"system instruction override", regexp.MustCompile(`(?i)(ignore|override|disregard|reveal|new)\s+(the\s+|your\s+)?(system\s+prompt|developer\s+instructions?)`), Critical},
	{"data exfiltration", regexp.MustCompile(`(?i)(upload|send|exfiltrate)\s+(the\s+)?(files?|secrets?|config|credentials)\b`), Critical},
	{"secret access", regexp.MustCompile(`(?i)read\s+(\.env|~/\.ssh|secrets?|credentials?|tokens?)\b`), Critical},
	{"script tag", regexp.MustCompile(`(?i)<\s*script[^>]*>`), Critical},
	{"command execution", regexp.MustCompile(`(?i)(execute|run)\s+(this\s+|the\s+following\s+)?(command|bash|shell)\b`), Warning},
	{"network command", regexp.MustCompile(`\b(curl|wget|scp|rsync)\s+-?\w`), Warning},
	{"file system command", regexp.MustCompile(`\b(cat|rm|mv)\s+[-/~]`), Warning},
}

const (
	// windowWords is the phrase length checked for flooding.
	windowWords = 5

	// floodRepeats flags a repeated injection phrase; spamRepeats any phrase.
	floodRepeats = 10
	spamRepeats  = 50

	maxMetadataChars = 200
	maxMatchesShown  = 3
)

// Screen inspects raw, the PDF file, and text, its extracted text.
// Either may be empty.
func Screen(raw []byte, text string) Report {
	var fs []Finding
	fs = append(fs, Structure(raw)...)
	fs = append(fs, Metadata(raw)...)
	fs = append(fs, Injections(text)...)
	fs = append(fs, Repetition(text)...)
	return Report{Risk: grade(fs), Findings: fs}
}

// grade maps findings to a risk: three or more critical findings are
// critical, one is high, five warnings are medium.
func grade(fs []Finding) Risk {
	var crit, warn int
	for _, f := range fs {
		if f.Severity == Critical {
			crit++
		} else {
			warn++
		}
	}
	switch {
	case crit >= 3:
		return RiskCritical
	case crit >= 1:
		return RiskHigh
	case warn >= 5:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Injections reports each injection pattern found in text, once per
// pattern, with up to three matches in context.
func Injections(text string) []Finding {
	var fs []Finding
	for _, p := range patterns {
		locs := p.re.FindAllStringIndex(text, -1)
		if len(locs) == 0 {
			continue
		}
		shown := make([]string, 0, maxMatchesShown)
		for _, l := range locs[:min(len(locs), maxMatchesShown)] {
			shown = append(shown, fmt.Sprintf("%q", excerpt(text, l[0], l[1])))
		}
		fs = append(fs, Finding{
			Check:    p.name,
			Severity: p.severity,
			Detail:   fmt.Sprintf("%d match(es): %s", len(locs), strings.Join(shown, ", ")),
		})
	}
	return fs
}

func excerpt(text string, start, end int) string {
	const pad = 30
	return strings.Join(strings.Fields(text[max(0, start-pad):min(len(text), end+pad)]), " ")
}

// Repetition flags phrases of five words repeated to flood the reader.
func Repetition(text string) []Finding {
	words := strings.Fields(strings.ToLower(text))
	if len(words) < windowWords {
		return nil
	}
	counts := map[string]int{}
	for i := 0; i+windowWords <= len(words); i++ {
		counts[strings.Join(words[i:i+windowWords], " ")]++
	}
	phrases := make([]string, 0)
	for phrase, n := range counts {
		if n > floodRepeats {
			phrases = append(phrases, phrase)
		}
	}
	sort.Strings(phrases)

	var fs []Finding
	for _, phrase := range phrases {
		n := counts[phrase]
		if name, ok := matchCritical(phrase); ok {
			fs = append(fs, Finding{
				Check:    "flooding",
				Severity: Critical,
				Detail:   fmt.Sprintf("%q repeated %d times (%s)", phrase, n, name),
			})
			continue
		}
		if n > spamRepeats {
			fs = append(fs, Finding{
				Check:    "repetition",
				Severity: Warning,
				Detail:   fmt.Sprintf("%q repeated %d times", phrase, n),
			})
		}
	}
	return fs
}

func matchCritical(s string) (string, bool) {
	for _, p := range patterns {
		if p.severity == Critical && p.re.MatchString(s) {
			return p.name, true
		}
	}
	return "", false
}

var (
	activeContent = []struct {
		name     string
		re       *regexp.Regexp
		severity Severity
	}{
		{"javascript", regexp.MustCompile(`/JavaScript\b`), Critical},
		{"javascript action", regexp.MustCompile(`/JS\s*[<(]`), Critical},
		{"launch action", regexp.MustCompile(`/Launch\b`), Critical},
		{"open action", regexp.MustCompile(`/OpenAction\b`), Warning},
		{"automatic action", regexp.MustCompile(`/AA\s*<<`), Warning},
		{"form", regexp.MustCompile(`/AcroForm\b`), Warning},
	}

	infoField = regexp.MustCompile(`/(Title|Author|Subject|Keywords)\s*\(((?:[^()\\]|\\.)*)\)`)
)

// Structure reports active content in the PDF file. Compressed object
// streams are not inflated.
func Structure(raw []byte) []Finding {
	var fs []Finding
	for _, a := range activeContent {
		if n := len(a.re.FindAllIndex(raw, -1)); n > 0 {
			fs = append(fs, Finding{Check: a.name, Severity: a.severity, Detail: fmt.Sprintf("%d occurrence(s)", n)})
		}
	}
	return fs
}

// Metadata checks the literal string values of the document information
// fields for injection phrases and unusual length.
func Metadata(raw []byte) []Finding {
	var fs []Finding
	for _, m := range infoField.FindAllSubmatch(raw, -1) {
		field, value := string(m[1]), string(m[2])
		for _, p := range patterns {
			if p.re.MatchString(value) {
				fs = append(fs, Finding{Check: "metadata " + p.name, Severity: Critical, Detail: field})
			}
		}
		if len(value) > maxMetadataChars {
			fs = append(fs, Finding{Check: "metadata length", Severity: Warning, Detail: fmt.Sprintf("%s has %d chars", field, len(value))})
		}
	}
	return fs
}
