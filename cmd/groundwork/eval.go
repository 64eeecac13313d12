package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/perigee-labs/groundwork/internal/config"
	"github.com/perigee-labs/groundwork/internal/eval"
	"github.com/perigee-labs/groundwork/internal/pipeline"
	"github.com/perigee-labs/groundwork/internal/run"
)

var (
	evalCases    string
	evalLocation string
	evalModel    string
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score the pipeline against an evaluation suite",
	Long: `Eval runs every case in the suite through the full pipeline and
checks each output for required phrases, forbidden phrases, length
limits, and refusal behavior. The command exits non-zero when any
case fails.`,
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringVar(&evalCases, "cases", "config/eval_cases.yaml", "evaluation suite file (.json, .yaml, or .yml)")
	evalCmd.Flags().StringVar(&evalLocation, "location", "", "index collection to search (default from config)")
	evalCmd.Flags().StringVar(&evalModel, "model", "", "generation model override")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, _, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cases, err := eval.LoadSuite(evalCases)
	if err != nil {
		return err
	}

	runner := pipeline.NewRunner(cfg, newEmbeddingCache(cfg, logger), logger)
	runTask := func(ctx context.Context, task string) (*run.State, error) {
		return runner.Run(ctx, task, evalLocation, evalModel)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	harness := eval.NewHarness(runTask, cmd.OutOrStdout(), logger)
	summary, err := harness.Run(ctx, cases)
	if err != nil {
		return err
	}
	if !summary.AllPassed() {
		return fmt.Errorf("%d of %d cases failed", summary.Total-summary.Passed, summary.Total)
	}
	return nil
}
