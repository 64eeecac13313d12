package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/perigee-labs/groundwork/internal/config"
	"github.com/perigee-labs/groundwork/internal/embeddings"
	"github.com/perigee-labs/groundwork/internal/index"
	"github.com/perigee-labs/groundwork/internal/vectordb"
)

var (
	indexSource   string
	indexLocation string
	indexWatch    bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the document index",
	Long: `Index loads the source documents, splits them into chunks, embeds
each chunk, and upserts the vectors into the search collection. With
--watch the command keeps running and rebuilds when source files
change.`,
	RunE: runIndexCmd,
}

func init() {
	indexCmd.Flags().StringVar(&indexSource, "source", "", "source document directory (default from config)")
	indexCmd.Flags().StringVar(&indexLocation, "location", "", "target collection (default from config)")
	indexCmd.Flags().BoolVar(&indexWatch, "watch", false, "rebuild on file changes until interrupted")
	rootCmd.AddCommand(indexCmd)
}

func runIndexCmd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, _, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	source := indexSource
	if source == "" {
		source = cfg.Index.SourceDir
	}
	if source == "" {
		return errors.New("no source directory: pass --source or set index.source_dir")
	}
	location := indexLocation
	if location == "" {
		location = cfg.VectorDB.Collection
	}

	idxCfg := cfg.Index
	idxCfg.SourceDir = source

	embedder := embeddings.NewService(cfg.Embeddings, newEmbeddingCache(cfg, logger), logger)
	store := vectordb.NewClient(cfg.VectorDB, logger)
	builder := index.NewBuilder(embedder, store, idxCfg, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Fingerprint before building so edits landing mid-build trigger
	// the next rebuild instead of being masked.
	fp, fpErr := index.Fingerprint(source)

	count, err := builder.Build(ctx, source, location)
	if err != nil {
		return fmt.Errorf("index build failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d chunks into %s\n", count, location)

	if fpErr != nil {
		logger.Warn("Failed to fingerprint source directory", zap.Error(fpErr))
	} else if err := index.WriteFingerprint(source, location, fp); err != nil {
		logger.Warn("Failed to persist fingerprint", zap.Error(err))
	}

	if !indexWatch {
		return nil
	}
	watcher := index.NewWatcher(builder, idxCfg, location, logger)
	return watcher.Run(ctx)
}
