// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package querygen turns a natural-language research question into one
// query string per search back-end by way of an LLM sub-agent.
package querygen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/pdiddy/academic-agent/internal/agent"
	"github.com/pdiddy/academic-agent/internal/eventlog"
	"github.com/pdiddy/academic-agent/pkg/types"
)

// AgentType names the sub-agent in spawn requests and the event log.
const AgentType = "query_generator"

// MaxQueryLen caps a rendered Boolean query.
const MaxQueryLen = 120

// DefaultBackends are targeted when the caller names none.
var DefaultBackends = []string{"crossref", "openalex", "semantic_scholar"}

// backendAliases maps names a model tends to use onto back-end names.
var backendAliases = map[string]string{
	"s2":               "semantic_scholar",
	"semanticscholar":  "semantic_scholar",
	"semantic-scholar": "semantic_scholar",
	"cross_ref":        "crossref",
	"open_alex":        "openalex",
}

// metaKeys may sit next to the queries in a flat reply.
var metaKeys = map[string]bool{"keywords_used": true, "reasoning": true, "notes": true}

// Spawner runs a sub-agent with model fallback.
type Spawner interface {
	Spawn(ctx context.Context, req agent.Request, validate agent.Validator) (agent.Response, error)
}

// Result is one generation cycle.
type Result struct {
	Bundle types.QueryBundle

	// Model produced the queries; empty when no agent ran.
	Model        string
	UsedFallback bool

	// Synthesized lists back-ends whose query was not supplied by the model.
	Synthesized []string
}

// Generator renders per-back-end queries.
type Generator struct {
	spawner Spawner
	sink    *eventlog.Sink
	log     *zap.Logger
}

// New returns a Generator. A nil spawner makes every query a keyword
// heuristic of the question.
func New(s Spawner, sink *eventlog.Sink, log *zap.Logger) *Generator {
	return &Generator{spawner: s, sink: sink, log: eventlog.OrNop(log)}
}

var promptTmpl = template.Must(template.New("querygen").Funcs(template.FuncMap{"join": strings.Join}).Parse(`You are the query generator of an academic literature search.

Generate one optimized search query per academic API for the research question below.

Research question: {{.Question}}
{{- if .Clusters}}

Keyword clusters:
{{- range .Clusters}}
- {{.Name}}: {{join .Keywords ", "}}
{{- end}}
{{- end}}

Target APIs: {{join .Backends ", "}}

Rules:
{{- range .Rules}}
- {{.}}
{{- end}}
- Every query must be at most {{.MaxLen}} characters.
- Expand acronyms and add close synonyms where they help recall.

Respond with a JSON object and nothing else:
{"queries": { {{- range $i, $b := .Backends}}{{if $i}}, {{end}}"{{$b}}": "..."{{end -}} }, "keywords_used": ["..."], "reasoning": "one sentence"}
`))

func rule(backend string) string {
	switch backend {
	case "crossref":
		return `crossref: Boolean with quoted phrases, e.g. "DevOps" AND ("governance" OR "compliance")`
	case "openalex":
		return `openalex: Boolean without quotes, e.g. DevOps AND (governance OR compliance)`
	case "semantic_scholar":
		return `semantic_scholar: plain keywords, e.g. DevOps governance compliance`
	default:
		return backend + `: plain keywords, no operators`
	}
}

// Prompt renders the query-generation prompt.
func Prompt(question string, backends []string, clusters []types.Cluster) (string, error) {
	data := struct {
		Question string
		Clusters []types.Cluster
		Backends []string
		Rules    []string
		MaxLen   int
	}{Question: question, Clusters: clusters, Backends: backends, MaxLen: MaxQueryLen}
	for _, b := range backends {
		data.Rules = append(data.Rules, rule(b))
	}
	var buf bytes.Buffer
	if err := promptTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Generate asks the sub-agent for queries targeting backends and fills any
// back-end the reply omits with the raw question. An agent failure after
// the fallback model is returned as is.
func (g *Generator) Generate(ctx context.Context, question string, backends []string, clusters []types.Cluster) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("empty research question")
	}
	if len(backends) == 0 {
		backends = DefaultBackends
	}
	res := &Result{Bundle: types.QueryBundle{Question: question, Queries: map[string]string{}}}
	for _, c := range clusters {
		res.Bundle.Clusters = append(res.Bundle.Clusters, c.Name)
	}

	if g.spawner == nil {
		g.log.Info("no query agent configured, using keyword queries")
		for _, b := range backends {
			res.Bundle.Queries[b] = Heuristic(question, b)
			res.Synthesized = append(res.Synthesized, b)
		}
		return res, nil
	}

	prompt, err := Prompt(question, backends, clusters)
	if err != nil {
		return nil, fmt.Errorf("rendering prompt: %w", err)
	}
	resp, err := g.spawner.Spawn(ctx, agent.Request{
		AgentType:   AgentType,
		Prompt:      prompt,
		Description: "Generate search queries",
	}, func(out string) error {
		_, err := ParseReply(out)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("generating queries: %w", err)
	}
	res.Model = resp.Model
	res.UsedFallback = resp.UsedFallback

	queries, err := ParseReply(resp.Output)
	if err != nil {
		return nil, fmt.Errorf("parsing query reply: %w", err)
	}
	for _, b := range backends {
		q := strings.TrimSpace(queries[b])
		if q == "" {
			res.Bundle.Queries[b] = question
			res.Synthesized = append(res.Synthesized, b)
			continue
		}
		if len([]rune(q)) > MaxQueryLen {
			g.log.Debug("clipping long query", zap.String("backend", b), zap.Int("length", len([]rune(q))))
			q = Clip(q, MaxQueryLen)
		}
		res.Bundle.Queries[b] = q
	}
	if len(res.Synthesized) > 0 {
		g.sink.Warn(AgentType, "queries-synthesized", eventlog.Payload{"backends": res.Synthesized})
	}
	g.sink.Emit(AgentType, "queries-generated", eventlog.Payload{
		"model":   res.Model,
		"queries": res.Bundle.Queries,
	})
	return res, nil
}

// ParseReply extracts the back-end to query mapping from a model reply.
// The JSON object is taken between the first '{' and the last '}'; either
// a nested "queries" object or a flat object is accepted. Every query must
// be a string.
func ParseReply(out string) (map[string]string, error) {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(out[start:end+1]), &top); err != nil {
		return nil, fmt.Errorf("reply is not a JSON object: %w", err)
	}
	obj := top
	if nested, ok := top["queries"]; ok {
		obj = nil
		if err := json.Unmarshal(nested, &obj); err != nil || obj == nil {
			return nil, fmt.Errorf(`"queries" is not an object`)
		}
	}

	queries := make(map[string]string, len(obj))
	var bad []string
	for k, raw := range obj {
		if metaKeys[k] {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			bad = append(bad, k)
			continue
		}
		queries[canonical(k)] = s
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return nil, fmt.Errorf("non-string query for %s", strings.Join(bad, ", "))
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("reply holds no queries")
	}
	return queries, nil
}

func canonical(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if a, ok := backendAliases[n]; ok {
		return a
	}
	return n
}

// Heuristic builds a query without a model: quoted terms joined by AND
// for CrossRef, bare terms joined by AND for OpenAlex, and the question
// itself elsewhere.
func Heuristic(question, backend string) string {
	terms := strings.Fields(strings.Trim(question, "?!. "))
	var q string
	switch backend {
	case "crossref":
		var quoted []string
		for _, t := range terms {
			if len([]rune(t)) > 2 {
				quoted = append(quoted, `"`+strings.Trim(t, `",;:`)+`"`)
			}
		}
		q = strings.Join(quoted, " AND ")
	case "openalex":
		q = strings.Join(terms, " AND ")
	}
	if q == "" {
		return question
	}
	return Clip(q, MaxQueryLen)
}

// Clip shortens a Boolean query to at most n runes on a term boundary,
// dropping dangling operators and any parenthesis or quote left open.
func Clip(q string, n int) string {
	r := []rune(q)
	if len(r) <= n {
		return q
	}
	cut := string(r[:n])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	fields := strings.Fields(cut)
	for len(fields) > 0 {
		last := strings.Trim(fields[len(fields)-1], "(")
		if last == "AND" || last == "OR" || last == "NOT" || last == "" {
			fields = fields[:len(fields)-1]
			continue
		}
		break
	}
	cut = strings.Join(fields, " ")
	if strings.Count(cut, `"`)%2 == 1 {
		i := strings.LastIndex(cut, `"`)
		cut = strings.TrimSpace(cut[:i] + cut[i+1:])
	}
	for open := strings.Count(cut, "(") - strings.Count(cut, ")"); open > 0; open-- {
		i := strings.LastIndex(cut, "(")
		cut = cut[:i] + cut[i+1:]
	}
	return cut
}
