package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/perigee-labs/groundwork/internal/llm"
	"github.com/perigee-labs/groundwork/internal/run"
)

// Plan asks the backend for an ordered execution plan and writes it to
// the state. The planner never retrieves or drafts; a backend failure
// is fatal to the run.
func (p *Pipeline) Plan(ctx context.Context, state *run.State) error {
	var reply planReply
	err := p.generator.Generate(ctx, llm.Request{
		Agent:  run.AgentPlanner,
		System: plannerSystemPrompt,
		Prompt: buildPlannerPrompt(state.Task),
		Schema: planSchema,
		Out:    &reply,
	})
	if err != nil {
		return fmt.Errorf("planner stage failed: %w", err)
	}
	if len(reply.Steps) == 0 {
		return fmt.Errorf("planner stage failed: backend returned an empty plan")
	}

	state.Plan = reply.Steps
	state.AppendLog(run.AgentPlanner, "created plan", fmt.Sprintf("%d steps", len(reply.Steps)))
	p.logger.Info("Created plan",
		zap.String("run_id", state.RunID),
		zap.Int("steps", len(reply.Steps)))
	return nil
}
