package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/perigee-labs/groundwork/internal/llm"
	"github.com/perigee-labs/groundwork/internal/run"
)

// notFoundFallback is the deliverable produced when research found no
// usable evidence. It is synthesized locally; the generation backend
// is never consulted on this path.
const notFoundFallback = `## Deliverable

**Not found in sources.** The document knowledge base did not contain enough evidence to complete this request.

### What I need
- The relevant documents (or excerpts) that mention the required facts.
- Or clarification on which document set to search.
`

// Draft turns the research notes into the client deliverable. Without
// grounded notes it writes a fixed fallback instead of calling the
// backend, so an evidence gap can never be papered over by generation.
func (p *Pipeline) Draft(ctx context.Context, state *run.State) error {
	if !state.ResearchNotes.OK() {
		state.Draft = notFoundFallback
		state.AppendLog(run.AgentWriter, "drafted deliverable", "insufficient research; used fallback")
		p.logger.Info("Drafted fallback deliverable", zap.String("run_id", state.RunID))
		return nil
	}

	var reply writerReply
	err := p.generator.Generate(ctx, llm.Request{
		Agent:  run.AgentWriter,
		System: writerSystemPrompt,
		Prompt: buildWriterPrompt(state.Task, state.Plan, state.ResearchNotes.Facts),
		Schema: draftSchema,
		Out:    &reply,
	})
	if err != nil {
		return fmt.Errorf("writer stage failed: %w", err)
	}

	state.Draft = reply.DraftMarkdown
	state.AppendLog(run.AgentWriter, "drafted deliverable", "markdown draft created")
	p.logger.Info("Drafted deliverable",
		zap.String("run_id", state.RunID),
		zap.Int("draft_bytes", len(state.Draft)))
	return nil
}
