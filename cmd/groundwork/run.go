package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/perigee-labs/groundwork/internal/archive"
	"github.com/perigee-labs/groundwork/internal/config"
	"github.com/perigee-labs/groundwork/internal/pipeline"
	"github.com/perigee-labs/groundwork/internal/run"
)

var (
	runLocation string
	runModel    string
	runJSON     bool
	runTimeout  time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run \"task\"",
	Short: "Execute one task through the pipeline",
	Long: `Run plans the task, retrieves supporting passages from the index,
drafts the deliverable, and verifies it before printing the result.
The final output goes to stdout; pass --json for the full run state
including the audit log and citations.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runLocation, "location", "", "index collection to search (default from config)")
	runCmd.Flags().StringVar(&runModel, "model", "", "generation model override")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full run state as JSON")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "overall run timeout (default from config)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, _, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	timeout := runTimeout
	if timeout <= 0 {
		timeout = cfg.Pipeline.RunTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	runner := pipeline.NewRunner(cfg, newEmbeddingCache(cfg, logger), logger)
	state, runErr := runner.Run(ctx, args[0], runLocation, runModel)
	if state != nil {
		archiveState(cfg, state, logger)
	}
	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}

	if runJSON {
		payload, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode run state: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(payload))
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), state.FinalOutput)
	if sources := run.SourceListing(state.Citations); len(sources) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "\nSources:")
		for _, s := range sources {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", s)
		}
	}
	if state.Status() == run.StatusTerminatedFailure {
		logger.Warn("Run exhausted its retry budget",
			zap.String("run_id", state.RunID),
			zap.Int("retry_count", state.RetryCount))
	}
	return nil
}

// archiveState persists a finished run when the archive is configured.
// Archive problems are logged, never fatal.
func archiveState(cfg *config.Config, state *run.State, logger *zap.Logger) {
	if cfg.Database.DSN == "" {
		return
	}
	store, err := archive.Open(cfg.Database, logger)
	if err != nil {
		logger.Warn("Run archive unavailable", zap.Error(err))
		return
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.SaveRun(ctx, state); err != nil {
		logger.Warn("Failed to archive run",
			zap.String("run_id", state.RunID),
			zap.Error(err))
	}
}
