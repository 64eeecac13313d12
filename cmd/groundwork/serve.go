package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/perigee-labs/groundwork/internal/archive"
	"github.com/perigee-labs/groundwork/internal/config"
	"github.com/perigee-labs/groundwork/internal/embeddings"
	"github.com/perigee-labs/groundwork/internal/health"
	"github.com/perigee-labs/groundwork/internal/pipeline"
	"github.com/perigee-labs/groundwork/internal/server"
	"github.com/perigee-labs/groundwork/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP service",
	Long: `Serve exposes task submission, run lookup, health, and metrics over
HTTP. The config file is watched; log level changes apply without a
restart. The process drains in-flight requests on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	bootCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, logLevel, err := newLogger(bootCfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	manager, err := config.NewManager(logger)
	if err != nil {
		return fmt.Errorf("failed to start configuration manager: %w", err)
	}
	cfg := manager.Config()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	manager.OnChange(func(next *config.Config) {
		if next.Logging.Level == "" {
			return
		}
		parsed, err := zapcore.ParseLevel(next.Logging.Level)
		if err != nil {
			logger.Warn("Ignoring invalid log level from config reload",
				zap.String("level", next.Logging.Level))
			return
		}
		logLevel.SetLevel(parsed)
	})

	if err := tracing.Initialize(cfg.Tracing, logger); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(ctx); err != nil {
			logger.Warn("Tracing shutdown failed", zap.Error(err))
		}
	}()

	var cache embeddings.EmbeddingCache
	var redisCache *embeddings.RedisCache
	if cfg.Redis.Addr != "" {
		rc, err := embeddings.NewRedisCache(cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis cache unavailable, continuing without shared tier", zap.Error(err))
		} else {
			redisCache = rc
			cache = rc
		}
	}

	var store *archive.Store
	if cfg.Database.DSN != "" {
		st, err := archive.Open(cfg.Database, logger)
		if err != nil {
			logger.Warn("Run archive unavailable, continuing without it", zap.Error(err))
		} else {
			store = st
			defer func() { _ = store.Close() }()
		}
	}

	healthMgr := newHealthManager(cfg, redisCache, store, logger)

	runner := pipeline.NewRunner(cfg, cache, logger)

	var runStore server.RunStore
	if store != nil {
		runStore = store
	}
	srv := server.New(cfg, runner.Run, runStore, healthMgr, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}

// newHealthManager registers the backends this deployment actually
// uses. The generation and vector backends gate readiness; the cache
// and archive tiers only degrade it.
func newHealthManager(cfg *config.Config, redisCache *embeddings.RedisCache, store *archive.Store, logger *zap.Logger) *health.Manager {
	manager := health.NewManager(logger)
	register := func(c health.Checker) {
		if err := manager.Register(c); err != nil {
			logger.Warn("Skipping health checker", zap.Error(err))
		}
	}

	llmProbe := strings.TrimSuffix(cfg.LLM.BaseURL, "/") + "/models"
	register(health.NewHTTPChecker("llm", llmProbe, cfg.LLM.APIKey, true))
	register(health.NewHTTPChecker("vectordb", cfg.VectorDB.QdrantURL()+"/healthz", "", true))
	if redisCache != nil {
		register(health.NewRedisChecker(redisCache.Wrapper()))
	}
	if store != nil {
		register(health.NewDatabaseChecker(store.Wrapper()))
	}
	return manager
}
