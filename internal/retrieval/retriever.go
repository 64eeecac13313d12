// Package retrieval answers research queries with passages from the
// document index.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/perigee-labs/groundwork/internal/config"
	"github.com/perigee-labs/groundwork/internal/metrics"
	"github.com/perigee-labs/groundwork/internal/tracing"
	"github.com/perigee-labs/groundwork/internal/vectordb"
)

// DefaultK is how many passages a research query asks for.
const DefaultK = 7

// Passage is one retrieved chunk of source material.
type Passage struct {
	Text     string
	SourceID string
	Location string
	Page     *int
}

// Searcher is the retrieval contract the research stage consumes.
type Searcher interface {
	Retrieve(ctx context.Context, query string, k int) ([]Passage, error)
}

// Embedder turns a query into a vector.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text, model string) ([]float32, error)
}

// VectorSearch is the slice of the vector store client used here.
type VectorSearch interface {
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]vectordb.Point, error)
}

// Retriever embeds queries and searches the document collection.
type Retriever struct {
	embedder   Embedder
	store      VectorSearch
	collection string
	k          int
	logger     *zap.Logger
}

var _ Searcher = (*Retriever)(nil)

// NewRetriever wires the embedder and vector store into a retriever for
// the configured collection.
func NewRetriever(embedder Embedder, store VectorSearch, cfg config.VectorDBConfig, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	k := cfg.TopK
	if k <= 0 {
		k = DefaultK
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "groundwork"
	}
	return &Retriever{
		embedder:   embedder,
		store:      store,
		collection: collection,
		k:          k,
		logger:     logger,
	}
}

// Retrieve embeds the query and returns at most k passages,
// deduplicated by (source, location) with the highest-ranked occurrence
// kept and rank order preserved. k <= 0 uses the configured default. An
// empty index yields an empty slice, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	if k <= 0 {
		k = r.k
	}
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "retrieval.retrieve")
	defer span.End()

	vec, err := r.embedder.GenerateEmbedding(ctx, query, "")
	if err != nil {
		metrics.RecordRetrievalMetrics(r.collection, "error", 0, time.Since(start).Seconds())
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	points, err := r.store.Search(ctx, r.collection, vec, k)
	if err != nil {
		metrics.RecordRetrievalMetrics(r.collection, "error", 0, time.Since(start).Seconds())
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	passages := dedupe(toPassages(points))
	metrics.RecordRetrievalMetrics(r.collection, "success", len(passages), time.Since(start).Seconds())
	r.logger.Debug("Retrieved passages",
		zap.Int("requested", k),
		zap.Int("returned", len(passages)))
	return passages, nil
}

func toPassages(points []vectordb.Point) []Passage {
	out := make([]Passage, 0, len(points))
	for _, p := range points {
		text, _ := p.Payload["text"].(string)
		if strings.TrimSpace(text) == "" {
			continue
		}
		passage := Passage{Text: text}
		if v, ok := p.Payload["doc_id"].(string); ok {
			passage.SourceID = v
		}
		if v, ok := p.Payload["location"].(string); ok {
			passage.Location = v
		}
		if v, ok := p.Payload["page"].(float64); ok {
			page := int(v)
			passage.Page = &page
		}
		out = append(out, passage)
	}
	return out
}

// dedupe keeps the first occurrence of each (source, location) pair.
func dedupe(passages []Passage) []Passage {
	type key struct{ source, location string }
	seen := make(map[key]struct{}, len(passages))
	out := make([]Passage, 0, len(passages))
	for _, p := range passages {
		k := key{p.SourceID, p.Location}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}
