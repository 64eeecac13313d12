package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/perigee-labs/groundwork/internal/config"
	"github.com/perigee-labs/groundwork/internal/embeddings"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "groundwork",
	Short: "Grounded research and drafting pipeline",
	Long: `Groundwork plans, researches, drafts, and verifies deliverables
against an indexed document corpus. Every claim in a deliverable is
backed by retrieved source passages; tasks the corpus cannot support
come back as explicit refusals instead of guesses.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			os.Setenv("GROUNDWORK_CONFIG", cfgFile)
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default ./config/groundwork.yaml)")
}

// newLogger builds the process logger from configuration and installs
// it as the zap global. The returned atomic level lets a config reload
// adjust verbosity in place.
func newLogger(cfg config.LoggingConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, zap.AtomicLevel{}, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	atomic := zap.NewAtomicLevelAt(level)

	zcfg := zap.NewProductionConfig()
	if cfg.Development || os.Getenv("GROUNDWORK_DEV") == "1" {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zcfg.Level = atomic

	logger, err := zcfg.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("failed to build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, atomic, nil
}

// newEmbeddingCache builds the shared Redis tier when configured. A
// missing or unreachable Redis is not fatal; callers fall back to the
// per-process cache.
func newEmbeddingCache(cfg *config.Config, logger *zap.Logger) embeddings.EmbeddingCache {
	if cfg.Redis.Addr == "" {
		return nil
	}
	cache, err := embeddings.NewRedisCache(cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis cache unavailable, continuing without shared tier", zap.Error(err))
		return nil
	}
	return cache
}
