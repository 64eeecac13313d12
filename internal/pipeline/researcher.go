package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/perigee-labs/groundwork/internal/llm"
	"github.com/perigee-labs/groundwork/internal/retrieval"
	"github.com/perigee-labs/groundwork/internal/run"
)

// Research retrieves passages for the task and turns them into
// citation-grounded research notes. Absence of evidence is a normal
// outcome recorded as status "not-found", never an error; only backend
// and retrieval failures propagate.
func (p *Pipeline) Research(ctx context.Context, state *run.State) error {
	passages, err := p.searcher.Retrieve(ctx, state.Task, p.retrievalK)
	if err != nil {
		return fmt.Errorf("researcher stage failed: %w", err)
	}
	if len(passages) == 0 {
		p.setNotFound(state, "retrieved sources", "0 passages; not found")
		return nil
	}

	var reply researchReply
	err = p.generator.Generate(ctx, llm.Request{
		Agent:  run.AgentResearcher,
		System: researcherSystemPrompt,
		Prompt: buildResearcherPrompt(state.Task, state.Plan, passages),
		Schema: researchSchema,
		Out:    &reply,
	})
	if err != nil {
		return fmt.Errorf("researcher stage failed: %w", err)
	}

	if reply.Status != run.StatusOK || len(reply.Facts) == 0 {
		p.setNotFound(state, "extracted facts", "backend found nothing to ground; not found")
		return nil
	}

	facts := resolveCitations(reply.Facts, passages)
	if len(facts) == 0 {
		p.setNotFound(state, "validated citations", "no valid cited facts; not found")
		return nil
	}

	state.ResearchNotes = &run.ResearchNotes{Status: run.StatusOK, Facts: facts}
	state.Citations = run.FlattenCitations(facts)
	state.AppendLog(run.AgentResearcher, "produced research notes", fmt.Sprintf("%d cited facts", len(facts)))
	p.logger.Info("Produced research notes",
		zap.String("run_id", state.RunID),
		zap.Int("facts", len(facts)),
		zap.Int("citations", len(state.Citations)))
	return nil
}

func (p *Pipeline) setNotFound(state *run.State, action, outcome string) {
	state.ResearchNotes = &run.ResearchNotes{Status: run.StatusNotFound}
	state.Citations = nil
	state.AppendLog(run.AgentResearcher, action, outcome)
	p.logger.Info("No grounded evidence",
		zap.String("run_id", state.RunID),
		zap.String("reason", outcome))
}

// resolveCitations maps the backend's citation indices onto the
// retrieved passages. Indices outside [0, len(passages)) are dropped,
// never trusted; a fact left with no valid citation is discarded.
func resolveCitations(extracted []extractedFact, passages []retrieval.Passage) []run.Fact {
	var facts []run.Fact
	for _, f := range extracted {
		var cites []run.Citation
		for _, idx := range f.Citations {
			if idx < 0 || idx >= len(passages) {
				continue
			}
			cites = append(cites, citationFor(passages[idx]))
		}
		if len(cites) == 0 {
			continue
		}
		facts = append(facts, run.Fact{Text: f.Fact, Citations: cites})
	}
	return facts
}

func citationFor(p retrieval.Passage) run.Citation {
	return run.Citation{
		SourceID: p.SourceID,
		Location: p.Location,
		Snippet:  excerpt(p.Text, citationSnippetLimit),
	}
}

// excerpt produces a single-line snippet of at most limit characters.
func excerpt(text string, limit int) string {
	r := []rune(text)
	if len(r) > limit {
		r = r[:limit]
	}
	return strings.TrimSpace(strings.ReplaceAll(string(r), "\n", " "))
}
