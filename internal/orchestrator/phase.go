// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrator

import "fmt"

// Phase is a step of the pipeline. Phases run in increasing order.
type Phase int

const (
	PhaseContext Phase = iota
	PhaseQueryGen
	PhaseSearch
	PhaseRank
	PhaseFetch
	PhaseQuotes
	PhaseReport
)

// LastPhase is the final phase of a run.
const LastPhase = PhaseReport

var phaseNames = [...]string{
	PhaseContext:  "context",
	PhaseQueryGen: "query-gen",
	PhaseSearch:   "search",
	PhaseRank:     "dedup+rank",
	PhaseFetch:    "pdf-fetch",
	PhaseQuotes:   "quote-extraction",
	PhaseReport:   "reporting",
}

func (p Phase) String() string {
	if p < PhaseContext || p > LastPhase {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}
