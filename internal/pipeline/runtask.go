package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/perigee-labs/groundwork/internal/config"
	"github.com/perigee-labs/groundwork/internal/run"
)

// RunTask executes a single task with every dependency assembled from
// the ambient configuration. location and model override the configured
// index collection and generation model when non-empty. Callers that
// execute many tasks should build a Runner once and reuse it; this
// entry point reloads configuration on every call.
func RunTask(ctx context.Context, task, location, model string) (*run.State, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewRunner(cfg, nil, zap.L()).Run(ctx, task, location, model)
}
