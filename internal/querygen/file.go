// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package querygen

import (
	"fmt"
	"os"
	"sort"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/academic-agent/pkg/types"
)

// FileName is the query bundle file inside a run directory.
const FileName = "queries.yaml"

// QueryFile is the on-disk form of a generation cycle. The researcher can
// edit it and resume the run to search with hand-tuned queries.
type QueryFile struct {
	Question    string            `yaml:"question"`
	Clusters    []string          `yaml:"clusters,omitempty"`
	Queries     map[string]string `yaml:"queries"`
	Model       string            `yaml:"model,omitempty"`
	Fallback    bool              `yaml:"used_fallback_model"`
	Synthesized []string          `yaml:"synthesized,omitempty"`
	GeneratedAt time.Time         `yaml:"generated_at"`
}

// Bundle returns the query bundle held by the file.
func (f *QueryFile) Bundle() types.QueryBundle {
	return types.QueryBundle{Question: f.Question, Clusters: f.Clusters, Queries: f.Queries}
}

// WriteQueryFile saves a generation result as YAML.
func WriteQueryFile(path string, res *Result) error {
	qf := QueryFile{
		Question:    res.Bundle.Question,
		Clusters:    res.Bundle.Clusters,
		Queries:     res.Bundle.Queries,
		Model:       res.Model,
		Fallback:    res.UsedFallback,
		Synthesized: append([]string(nil), res.Synthesized...),
		GeneratedAt: time.Now().UTC(),
	}
	sort.Strings(qf.Synthesized)

	data, err := yaml.Marshal(&qf)
	if err != nil {
		return fmt.Errorf("marshaling query file: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadQueryFile loads a query file and checks it still names a question
// and at least one query.
func ReadQueryFile(path string) (*QueryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading query file: %w", err)
	}
	var qf QueryFile
	if err := yaml.Unmarshal(data, &qf); err != nil {
		return nil, fmt.Errorf("parsing query file: %w", err)
	}
	if qf.Question == "" {
		return nil, fmt.Errorf("query file %s has no question", path)
	}
	if len(qf.Queries) == 0 {
		return nil, fmt.Errorf("query file %s has no queries", path)
	}
	return &qf, nil
}
