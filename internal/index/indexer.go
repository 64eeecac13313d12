package index

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perigee-labs/groundwork/internal/config"
	"github.com/perigee-labs/groundwork/internal/metrics"
	"github.com/perigee-labs/groundwork/internal/vectordb"
)

const defaultEmbedBatch = 64

// BatchEmbedder turns chunk texts into vectors.
type BatchEmbedder interface {
	GenerateBatchEmbeddings(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// VectorStore is the slice of the vector database the builder needs.
type VectorStore interface {
	RecreateCollection(ctx context.Context, collection string, dim int) error
	Upsert(ctx context.Context, collection string, points []vectordb.UpsertItem) (*vectordb.UpsertResponse, error)
	DeleteCollection(ctx context.Context, collection string) error
}

// Builder rebuilds a vector collection from a directory of source files.
type Builder struct {
	embedder BatchEmbedder
	store    VectorStore
	cfg      config.IndexConfig
	logger   *zap.Logger
}

// NewBuilder creates an index builder.
func NewBuilder(embedder BatchEmbedder, store VectorStore, cfg config.IndexConfig, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.EmbedBatch <= 0 {
		cfg.EmbedBatch = defaultEmbedBatch
	}
	return &Builder{
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
}

// Build drops and fully rebuilds the collection for a location from the
// files under sourceDir. It returns the number of chunks written. An
// empty source directory deletes the collection so stale passages can
// never be retrieved.
func (b *Builder) Build(ctx context.Context, sourceDir, location string) (int, error) {
	start := time.Now()
	count, err := b.build(ctx, sourceDir, location)
	if err != nil {
		metrics.IndexRebuilds.WithLabelValues("error").Inc()
		return 0, err
	}
	metrics.IndexRebuilds.WithLabelValues("success").Inc()
	metrics.IndexChunks.Set(float64(count))
	b.logger.Info("Rebuilt index",
		zap.String("location", location),
		zap.Int("chunks", count),
		zap.Duration("duration", time.Since(start)))
	return count, nil
}

func (b *Builder) build(ctx context.Context, sourceDir, location string) (int, error) {
	docs, err := LoadDir(sourceDir)
	if err != nil {
		return 0, err
	}

	var chunks []Chunk
	for _, doc := range docs {
		chunks = append(chunks, SplitDocument(doc, b.cfg.ChunkSize, b.cfg.ChunkOverlap)...)
	}

	if len(chunks) == 0 {
		if err := b.store.DeleteCollection(ctx, location); err != nil {
			return 0, fmt.Errorf("failed to delete collection %s: %w", location, err)
		}
		b.logger.Warn("No source files, collection dropped",
			zap.String("dir", sourceDir),
			zap.String("location", location))
		return 0, nil
	}

	recreated := false
	for offset := 0; offset < len(chunks); offset += b.cfg.EmbedBatch {
		end := offset + b.cfg.EmbedBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[offset:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := b.embedder.GenerateBatchEmbeddings(ctx, texts, "")
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunk batch: %w", err)
		}
		if len(vectors) != len(batch) {
			return 0, fmt.Errorf("embedding backend returned %d vectors for %d chunks", len(vectors), len(batch))
		}

		if !recreated {
			if err := b.store.RecreateCollection(ctx, location, len(vectors[0])); err != nil {
				return 0, fmt.Errorf("failed to recreate collection %s: %w", location, err)
			}
			recreated = true
		}

		points := make([]vectordb.UpsertItem, len(batch))
		for i, c := range batch {
			payload := map[string]interface{}{
				"doc_id":   c.SourceID,
				"location": c.Location,
				"text":     c.Text,
				"chunk":    c.Ordinal,
			}
			if c.Page != nil {
				payload["page"] = *c.Page
			}
			points[i] = vectordb.UpsertItem{
				ID:      uuid.New().String(),
				Vector:  vectors[i],
				Payload: payload,
			}
		}
		if _, err := b.store.Upsert(ctx, location, points); err != nil {
			return 0, fmt.Errorf("failed to upsert chunk batch: %w", err)
		}
	}

	return len(chunks), nil
}
