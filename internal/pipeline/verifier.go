package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/perigee-labs/groundwork/internal/llm"
	"github.com/perigee-labs/groundwork/internal/metrics"
	"github.com/perigee-labs/groundwork/internal/run"
)

// exhaustedFallback is the terminal deliverable written when the
// verifier keeps rejecting drafts past the retry budget.
const exhaustedFallback = `## Deliverable

**Unable to complete safely.** The verifier found unsupported claims and the retry budget was exhausted.

### What to do next
- Provide additional source documents or more specific excerpts.
- Narrow the request to what the documents explicitly support.
`

// Verify checks the draft against the research notes. A pass verdict
// accepts the draft as the final output; a fail verdict spends one
// retry, and exhausting the budget sets a safe-failure deliverable.
// These are the only two paths that set FinalOutput.
func (p *Pipeline) Verify(ctx context.Context, state *run.State) error {
	var reply verifierReply
	err := p.generator.Generate(ctx, llm.Request{
		Agent:  run.AgentVerifier,
		System: verifierSystemPrompt,
		Prompt: buildVerifierPrompt(state.Task, state.ResearchNotes, state.Draft),
		Schema: verdictSchema,
		Out:    &reply,
	})
	if err != nil {
		return fmt.Errorf("verifier stage failed: %w", err)
	}
	metrics.VerificationVerdicts.WithLabelValues(reply.Verdict).Inc()

	if reply.Verdict == verdictPass {
		state.FinalOutput = state.Draft
		state.AppendLog(run.AgentVerifier, "verified draft", "PASS")
		p.logger.Info("Draft accepted",
			zap.String("run_id", state.RunID),
			zap.Int("retry_count", state.RetryCount))
		return nil
	}

	state.RetryCount++
	summary := issueSummary(reply.Issues)
	state.AppendLog(run.AgentVerifier, "verified draft", fmt.Sprintf("FAIL (%s)", summary))
	p.logger.Warn("Draft rejected",
		zap.String("run_id", state.RunID),
		zap.Int("retry_count", state.RetryCount),
		zap.String("issues", summary))

	if state.RetryCount > state.MaxRetries {
		state.FinalOutput = exhaustedFallback
		state.AppendLog(run.AgentVerifier, "stopped run", "max retries exceeded; returned safe failure")
		p.logger.Warn("Retries exhausted, returning safe failure",
			zap.String("run_id", state.RunID),
			zap.Int("max_retries", state.MaxRetries))
	}
	return nil
}

func issueSummary(issues []verifierIssue) string {
	if len(issues) == 0 {
		return "unspecified issues"
	}
	parts := make([]string, len(issues))
	for i, iss := range issues {
		parts[i] = fmt.Sprintf("%s: %s", iss.Severity, iss.Issue)
	}
	return strings.Join(parts, "; ")
}
