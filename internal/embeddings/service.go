// Package embeddings turns text into vectors through an
// OpenAI-compatible embeddings endpoint, with a two-tier cache in
// front: an in-process LRU and an optional shared Redis tier.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/perigee-labs/groundwork/internal/circuitbreaker"
	"github.com/perigee-labs/groundwork/internal/config"
	"github.com/perigee-labs/groundwork/internal/metrics"
	"github.com/perigee-labs/groundwork/internal/tracing"
)

// lruTTL bounds how long the in-process tier may serve an entry before
// deferring back to the shared tier.
const lruTTL = 30 * time.Minute

// Service generates embeddings with caching.
type Service struct {
	baseURL string
	apiKey  string
	model   string
	ttl     time.Duration
	http    *circuitbreaker.HTTPWrapper
	cache   EmbeddingCache
	lru     *LocalLRU
	logger  *zap.Logger
}

// NewService builds the embedding service. cache may be nil when no
// shared tier is configured.
func NewService(cfg config.EmbeddingsConfig, cache EmbeddingCache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	wrapper := circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: timeout}, "embeddings-backend", "embeddings", logger)
	return &Service{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   model,
		ttl:     ttl,
		http:    wrapper,
		cache:   cache,
		lru:     NewLocalLRU(cfg.CacheSize),
		logger:  logger,
	}
}

// Model returns the configured default embedding model.
func (s *Service) Model() string {
	if s == nil {
		return ""
	}
	return s.model
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// GenerateEmbedding returns the vector for a single text.
func (s *Service) GenerateEmbedding(ctx context.Context, text, model string) ([]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embedding service not initialized")
	}
	vecs, err := s.GenerateBatchEmbeddings(ctx, []string{text}, model)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// GenerateBatchEmbeddings embeds multiple texts in one request. Cached
// vectors are served from the LRU or Redis tier; only the remainder
// goes to the backend. Result order matches the input order.
func (s *Service) GenerateBatchEmbeddings(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embedding service not initialized")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	m := model
	if m == "" {
		m = s.model
	}

	results := make([][]float32, len(texts))
	uncachedTexts := []string{}
	uncachedIndices := []int{}

	for i, text := range texts {
		key := MakeKey(m, text)

		if v, ok := s.lru.Get(ctx, key); ok {
			results[i] = v
			metrics.EmbeddingCacheHits.WithLabelValues("lru").Inc()
			continue
		}
		if s.cache != nil {
			if v, ok := s.cache.Get(ctx, key); ok {
				results[i] = v
				s.lru.Set(ctx, key, v, lruTTL)
				metrics.EmbeddingCacheHits.WithLabelValues("redis").Inc()
				continue
			}
		}

		metrics.EmbeddingCacheMisses.Inc()
		uncachedTexts = append(uncachedTexts, text)
		uncachedIndices = append(uncachedIndices, i)
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	start := time.Now()
	url := s.baseURL + "/embeddings"

	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	payload, err := json.Marshal(embedRequest{Model: m, Input: uncachedTexts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	tracing.InjectTraceparent(ctx, req)

	resp, err := s.http.Do(req)
	if err != nil {
		metrics.RecordEmbeddingMetrics(m, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordEmbeddingMetrics(m, "error", time.Since(start).Seconds())
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		metrics.RecordEmbeddingMetrics(m, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(er.Data) != len(uncachedTexts) {
		metrics.RecordEmbeddingMetrics(m, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("embedding backend returned %d vectors for %d texts", len(er.Data), len(uncachedTexts))
	}

	for _, d := range er.Data {
		if d.Index < 0 || d.Index >= len(uncachedTexts) {
			return nil, fmt.Errorf("embedding backend returned out-of-range index %d", d.Index)
		}
		out := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			out[j] = float32(f)
		}

		results[uncachedIndices[d.Index]] = out

		key := MakeKey(m, uncachedTexts[d.Index])
		s.lru.Set(ctx, key, out, lruTTL)
		if s.cache != nil {
			s.cache.Set(ctx, key, out, s.ttl)
		}
	}

	metrics.RecordEmbeddingMetrics(m, "ok", time.Since(start).Seconds())
	return results, nil
}
