package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/perigee-labs/groundwork/internal/config"
	"github.com/perigee-labs/groundwork/internal/embeddings"
	"github.com/perigee-labs/groundwork/internal/llm"
	"github.com/perigee-labs/groundwork/internal/metrics"
	"github.com/perigee-labs/groundwork/internal/retrieval"
	"github.com/perigee-labs/groundwork/internal/run"
	"github.com/perigee-labs/groundwork/internal/vectordb"
)

// Routing decisions for the loop's single conditional edge.
const (
	routeResearch  = "research"
	routeTerminate = "terminate"
)

// Orchestrator drives one run at a time through the stage loop. It owns
// stage timing and telemetry; the stages own the state mutations.
type Orchestrator struct {
	pipeline   *Pipeline
	maxRetries int
	logger     *zap.Logger
}

// NewOrchestrator creates an orchestrator over a pipeline.
func NewOrchestrator(pipeline *Pipeline, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		pipeline:   pipeline,
		maxRetries: run.DefaultMaxRetries,
		logger:     logger,
	}
}

// Run executes one task to termination: Plan once, then loop Research,
// Draft, Verify until the router terminates. The returned state is
// valid even when err is non-nil; its log and telemetry cover
// everything that ran before the failure.
func (o *Orchestrator) Run(ctx context.Context, task string, cfg map[string]string) (*run.State, error) {
	if strings.TrimSpace(task) == "" {
		return nil, errors.New("task must not be empty")
	}

	state := run.NewState(task, cfg)
	if o.maxRetries >= 0 {
		state.MaxRetries = o.maxRetries
	}
	metrics.RunsStarted.Inc()
	o.logger.Info("Starting run",
		zap.String("run_id", state.RunID),
		zap.String("task", truncate(task, 120)))

	err := o.drive(ctx, state)

	state.CompletedAt = time.Now().UTC()
	status := state.Status()
	if err != nil {
		status = "error"
	}
	metrics.RecordRunMetrics(status, state.CompletedAt.Sub(state.StartedAt).Seconds(), state.RetryCount)
	o.logger.Info("Run finished",
		zap.String("run_id", state.RunID),
		zap.String("status", status),
		zap.Int("retry_count", state.RetryCount),
		zap.Error(err))
	return state, err
}

func (o *Orchestrator) drive(ctx context.Context, state *run.State) error {
	if err := o.runStage(ctx, state, run.AgentPlanner, o.pipeline.Plan); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.runStage(ctx, state, run.AgentResearcher, o.pipeline.Research); err != nil {
			return err
		}
		if err := o.runStage(ctx, state, run.AgentWriter, o.pipeline.Draft); err != nil {
			return err
		}
		if err := o.runStage(ctx, state, run.AgentVerifier, o.pipeline.Verify); err != nil {
			return err
		}

		if route(state) == routeTerminate {
			if !state.Terminal() {
				o.logger.Warn("Terminating without final output",
					zap.String("run_id", state.RunID),
					zap.Int("retry_count", state.RetryCount))
			}
			return nil
		}
	}
}

// route is the single conditional edge of the state machine. Presence
// of FinalOutput terminates; otherwise remaining retry budget loops
// back to research. The trailing terminate is unreachable as long as
// the verifier sets FinalOutput whenever it exhausts the budget.
func route(state *run.State) string {
	if state.Terminal() {
		return routeTerminate
	}
	if state.RetryCount <= state.MaxRetries {
		return routeResearch
	}
	return routeTerminate
}

type stageFunc func(context.Context, *run.State) error

func (o *Orchestrator) runStage(ctx context.Context, state *run.State, stage string, fn stageFunc) error {
	start := time.Now()
	err := fn(ctx, state)
	latency := time.Since(start)
	state.RecordStage(stage, latency, err)
	metrics.RecordStageMetrics(stage, latency.Seconds(), err)
	return err
}

// Runner executes tasks against a fixed configuration. The embedding
// cache is shared across runs; the per-run clients are cheap to build
// and honor the location and model overrides.
type Runner struct {
	cfg    *config.Config
	cache  embeddings.EmbeddingCache
	logger *zap.Logger
}

// NewRunner creates a Runner. cache may be nil; each embedding service
// then falls back to its local tier only.
func NewRunner(cfg *config.Config, cache embeddings.EmbeddingCache, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, cache: cache, logger: logger}
}

// Run executes one task. location and model override the configured
// index collection and generation model when non-empty.
func (r *Runner) Run(ctx context.Context, task, location, model string) (*run.State, error) {
	llmCfg := r.cfg.LLM
	if model != "" {
		llmCfg.Model = model
	}
	vecCfg := r.cfg.VectorDB
	if location != "" {
		vecCfg.Collection = location
	}

	generator := llm.NewClient(llmCfg, r.logger)
	embedder := embeddings.NewService(r.cfg.Embeddings, r.cache, r.logger)
	store := vectordb.NewClient(vecCfg, r.logger)
	searcher := retrieval.NewRetriever(embedder, store, vecCfg, r.logger)

	pipe := New(generator, searcher, r.logger)
	pipe.retrievalK = r.cfg.Pipeline.RetrievalK

	orchestrator := NewOrchestrator(pipe, r.logger)
	orchestrator.maxRetries = r.cfg.Pipeline.MaxRetries

	return orchestrator.Run(ctx, task, map[string]string{
		run.ConfigKeyModel:         llmCfg.Model,
		run.ConfigKeyIndexLocation: vecCfg.Collection,
	})
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "…"
}
