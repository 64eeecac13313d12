// Package pipeline implements the four generation stages and the
// orchestration loop that drives a task to a cited, verified
// deliverable: Plan once, then Research, Draft and Verify repeat until
// the verifier accepts the draft or the retry budget runs out. All
// state lives on run.State; stages mutate it in place and never talk
// to each other directly.
package pipeline

import (
	"go.uber.org/zap"

	"github.com/perigee-labs/groundwork/internal/llm"
	"github.com/perigee-labs/groundwork/internal/retrieval"
)

// Snippet caps for text shown to the backend and stored on citations.
const (
	sourceSnippetLimit   = 350
	citationSnippetLimit = 220
)

// Pipeline carries the stage dependencies. One Pipeline serves any
// number of sequential runs; it holds no per-run state.
type Pipeline struct {
	generator  llm.Generator
	searcher   retrieval.Searcher
	retrievalK int
	logger     *zap.Logger
}

// New creates a pipeline over a generation backend and a passage
// searcher.
func New(generator llm.Generator, searcher retrieval.Searcher, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		generator:  generator,
		searcher:   searcher,
		retrievalK: retrieval.DefaultK,
		logger:     logger,
	}
}

// planReply is the planner's structured output.
type planReply struct {
	Steps []string `json:"steps"`
}

// extractedFact is one claim as returned by the research backend, with
// citation indices into the numbered source listing.
type extractedFact struct {
	Fact      string `json:"fact"`
	Citations []int  `json:"citations"`
}

// researchReply is the researcher's structured output.
type researchReply struct {
	Status string          `json:"status"`
	Facts  []extractedFact `json:"facts"`
}

// writerReply is the writer's structured output.
type writerReply struct {
	DraftMarkdown string `json:"draft_markdown"`
}

// Verifier verdict values.
const (
	verdictPass = "pass"
	verdictFail = "fail"
)

// verifierIssue is one problem the verifier found in the draft.
type verifierIssue struct {
	Issue    string `json:"issue"`
	Severity string `json:"severity"`
}

// verifierReply is the verifier's structured output.
type verifierReply struct {
	Verdict   string          `json:"verdict"`
	Issues    []verifierIssue `json:"issues"`
	Rationale string          `json:"rationale"`
}
