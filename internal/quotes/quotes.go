// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package quotes extracts short verbatim quotes from downloaded papers
// through an LLM sub-agent and checks them against the paper's text.
package quotes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/academic-agent/internal/agent"
	"github.com/pdiddy/academic-agent/internal/convert"
	"github.com/pdiddy/academic-agent/internal/eventlog"
	"github.com/pdiddy/academic-agent/internal/pdfguard"
	"github.com/pdiddy/academic-agent/pkg/types"
)

// AgentType names the sub-agent in spawn requests and the event log.
const AgentType = "quote_extractor"

const (
	// MaxQuotes is the most quotes kept per paper.
	MaxQuotes = 3

	// MaxWords is the longest quote kept, in words.
	MaxWords = 25

	// maxPromptChars bounds the paper text sent to the model.
	maxPromptChars = 150000

	contextWords   = 30
	defaultWorkers = 2
)

// Spawner runs a sub-agent with model fallback.
type Spawner interface {
	Spawn(ctx context.Context, req agent.Request, validate agent.Validator) (agent.Response, error)
}

// Paper is a ranked source whose PDF is on disk.
type Paper struct {
	Source  types.RankedSource
	PDFPath string
}

// Options configures an Extractor.
type Options struct {
	Question string
	Workers  int

	// Converter extracts PDF text for the prompt and the verbatim check.
	// With a nil Converter the model sees metadata only and quotes are
	// not checked against the text.
	Converter convert.Converter

	// TextDir caches extracted text.
	TextDir string

	Sink *eventlog.Sink
	Log  *zap.Logger
}

// Extractor runs the quote-extraction agent over downloaded papers.
type Extractor struct {
	spawner Spawner
	opts    Options
	log     *zap.Logger
}

// New returns an Extractor.
func New(s Spawner, opts Options) *Extractor {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	return &Extractor{spawner: s, opts: opts, log: eventlog.OrNop(opts.Log)}
}

// Result is the outcome of a quote-extraction phase.
type Result struct {
	// Quotes are in paper order with ids Q001, Q002, ...
	Quotes []types.Quote

	// Dropped counts replies rejected by validation.
	Dropped int

	// Unverified lists source ids whose quotes could not be checked
	// against the paper text.
	Unverified []string

	// Rejected lists source ids whose PDF failed the content screen and
	// was never shown to the model.
	Rejected []string
}

type paperResult struct {
	quotes     []types.Quote
	dropped    int
	unverified bool
	rejected   bool
}

// ExtractAll extracts quotes from every paper, at most Workers at a time.
// A paper yielding no acceptable quote is not an error. An agent failure
// after the fallback model fails the whole call.
func (e *Extractor) ExtractAll(ctx context.Context, papers []Paper) (*Result, error) {
	results := make([]paperResult, len(papers))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, p := range papers {
		g.Go(func() error {
			r, err := e.extractOne(gctx, p)
			if err != nil {
				return fmt.Errorf("extracting quotes from %s: %w", p.Source.ID, err)
			}
			mu.Lock()
			results[i] = r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{}
	for i, r := range results {
		res.Quotes = append(res.Quotes, r.quotes...)
		res.Dropped += r.dropped
		if r.rejected {
			res.Rejected = append(res.Rejected, papers[i].Source.ID)
		} else if r.unverified {
			res.Unverified = append(res.Unverified, papers[i].Source.ID)
		}
	}
	AssignIDs(res.Quotes)
	e.opts.Sink.Emit(AgentType, "quotes-completed", eventlog.Payload{
		"papers":   len(papers),
		"quotes":   len(res.Quotes),
		"dropped":  res.Dropped,
		"rejected": len(res.Rejected),
	})
	return res, nil
}

func (e *Extractor) extractOne(ctx context.Context, p Paper) (paperResult, error) {
	var text convert.Text
	if e.opts.Converter != nil {
		t, err := convert.Extract(ctx, e.opts.Converter, p.PDFPath, e.opts.TextDir)
		if err != nil {
			e.opts.Sink.Warn(AgentType, "pdf-text-unavailable", eventlog.Payload{"source_id": p.Source.ID, "error": err})
			e.log.Warn("PDF text unavailable, quotes will not be verified", zap.String("source", p.Source.ID), zap.Error(err))
		} else {
			text = t
		}
	}

	raw, err := os.ReadFile(p.PDFPath)
	if err != nil {
		e.log.Warn("PDF unreadable, screening text only", zap.String("source", p.Source.ID), zap.Error(err))
	}
	report := pdfguard.Screen(raw, text.String())
	if !report.Safe() {
		e.opts.Sink.Warn(AgentType, "pdf-rejected", eventlog.Payload{
			"source_id":  p.Source.ID,
			"risk_level": report.Risk,
			"findings":   report.Findings,
		})
		e.log.Warn("PDF rejected by content screen",
			zap.String("source", p.Source.ID),
			zap.String("risk", string(report.Risk)),
			zap.Int("findings", len(report.Findings)))
		return paperResult{rejected: true}, nil
	}

	prompt, err := Prompt(e.opts.Question, p, text)
	if err != nil {
		return paperResult{}, fmt.Errorf("rendering prompt: %w", err)
	}
	resp, err := e.spawner.Spawn(ctx, agent.Request{
		AgentType:   AgentType,
		Prompt:      prompt,
		Description: "Extract quotes from " + p.Source.ID,
	}, func(out string) error {
		_, err := ParseReply(out)
		return err
	})
	if err != nil {
		return paperResult{}, err
	}
	replies, err := ParseReply(resp.Output)
	if err != nil {
		return paperResult{}, err
	}

	r := paperResult{unverified: text.Empty()}
	for _, rep := range replies {
		if len(r.quotes) == MaxQuotes {
			r.dropped++
			continue
		}
		q, err := Check(rep, text)
		if err != nil {
			r.dropped++
			e.log.Debug("quote dropped", zap.String("source", p.Source.ID), zap.Error(err))
			continue
		}
		q.SourceID = p.Source.ID
		q.SourceKey = p.Source.Key()
		q.Filename = filepath.Base(p.PDFPath)
		r.quotes = append(r.quotes, q)
	}
	e.opts.Sink.Emit(AgentType, "quotes-extracted", eventlog.Payload{
		"source_id": p.Source.ID,
		"model":     resp.Model,
		"kept":      len(r.quotes),
		"dropped":   r.dropped,
	})
	return r, nil
}

// AssignIDs numbers quotes Q001, Q002, ... in slice order.
func AssignIDs(qs []types.Quote) {
	for i := range qs {
		qs[i].ID = fmt.Sprintf("Q%03d", i+1)
	}
}

var promptTmpl = template.Must(template.New("quotes").Parse(`You are the quote extractor of an academic literature review.

Extract up to {{.MaxQuotes}} quotes from the paper below that directly address the research question.

Research question: {{.Question}}

Paper:
- Title: {{.Title}}
- Authors: {{.Authors}}
- Year: {{.Year}}
{{- if .Venue}}
- Venue: {{.Venue}}
{{- end}}
{{- if .DOI}}
- DOI: {{.DOI}}
{{- end}}
- PDF: {{.PDFPath}}

Rules:
- Copy each quote verbatim from the paper. Never paraphrase.
- Each quote has at most {{.MaxWords}} words.
- Give the page number where the quote appears.
- "context" is one sentence locating the quote in the paper.
- "relevance" is one sentence on why the quote matters for the research question.
- Return fewer quotes, or none, rather than weak ones.

Respond with a JSON object and nothing else:
{"quotes": [{"text": "...", "page": 1, "context": "...", "relevance": "..."}]}
{{- if .Text}}

Paper text (pages separated by "--- page N ---"):
{{.Text}}
{{- else if .Abstract}}

The full text is not available. Abstract:
{{.Abstract}}
{{- end}}
`))

// Prompt renders the quote-extraction prompt for one paper.
func Prompt(question string, p Paper, text convert.Text) (string, error) {
	year := "n.d."
	if p.Source.Year > 0 {
		year = strconv.Itoa(p.Source.Year)
	}
	data := struct {
		Question, Title, Authors, Year, Venue, DOI, PDFPath, Abstract, Text string
		MaxQuotes, MaxWords                                                 int
	}{
		Question:  question,
		Title:     p.Source.Title,
		Authors:   strings.Join(p.Source.Authors, "; "),
		Year:      year,
		Venue:     p.Source.Venue,
		DOI:       p.Source.DOI,
		PDFPath:   p.PDFPath,
		Abstract:  p.Source.Abstract,
		Text:      promptText(text),
		MaxQuotes: MaxQuotes,
		MaxWords:  MaxWords,
	}
	var buf bytes.Buffer
	if err := promptTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// promptText renders the pages with markers, truncated to maxPromptChars
// bytes on a rune boundary.
func promptText(text convert.Text) string {
	if text.Empty() {
		return ""
	}
	var b strings.Builder
	for i, p := range text.Pages {
		if text.Paged() {
			fmt.Fprintf(&b, "--- page %d ---\n", i+1)
		}
		b.WriteString(strings.TrimSpace(p))
		b.WriteString("\n")
		if b.Len() > maxPromptChars {
			break
		}
	}
	s := b.String()
	if len(s) > maxPromptChars {
		cut := maxPromptChars
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "\n[... truncated ...]"
	}
	return s
}

// Reply is one quote as returned by the model.
type Reply struct {
	Text      string
	Page      string
	Context   string
	Relevance string
}

type rawReply struct {
	Text      string          `json:"text"`
	Page      json.RawMessage `json:"page"`
	Context   string          `json:"context"`
	Relevance json.RawMessage `json:"relevance"`
	Reasoning string          `json:"reasoning"`
}

// ParseReply extracts the quotes from a model reply. The JSON object is
// taken between the first '{' and the last '}' and must hold a "quotes"
// array; an empty array is valid.
func ParseReply(out string) ([]Reply, error) {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}
	var top struct {
		Quotes *[]rawReply `json:"quotes"`
	}
	if err := json.Unmarshal([]byte(out[start:end+1]), &top); err != nil {
		return nil, fmt.Errorf("reply is not valid quote JSON: %w", err)
	}
	if top.Quotes == nil {
		return nil, fmt.Errorf(`reply has no "quotes" array`)
	}
	replies := make([]Reply, 0, len(*top.Quotes))
	for _, r := range *top.Quotes {
		rel := scalar(r.Relevance)
		if rel == "" {
			rel = r.Reasoning
		}
		replies = append(replies, Reply{
			Text:      strings.TrimSpace(r.Text),
			Page:      scalar(r.Page),
			Context:   strings.TrimSpace(r.Context),
			Relevance: strings.TrimSpace(rel),
		})
	}
	return replies, nil
}

// scalar renders a JSON string or number as text.
func scalar(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
