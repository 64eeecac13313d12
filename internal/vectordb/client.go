// Package vectordb is a minimal Qdrant HTTP client covering what the
// document index and retrieval layers need: collection lifecycle,
// batched upserts and vector search.
package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/perigee-labs/groundwork/internal/circuitbreaker"
	"github.com/perigee-labs/groundwork/internal/config"
	"github.com/perigee-labs/groundwork/internal/tracing"
)

// Point is one scored search hit.
type Point struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// UpsertItem is a single point to insert into Qdrant.
type UpsertItem struct {
	ID      interface{}            `json:"id,omitempty"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

// UpsertResponse captures the basic Qdrant upsert response.
type UpsertResponse struct {
	Status string  `json:"status"`
	Time   float64 `json:"time"`
}

// Client talks to one Qdrant instance.
type Client struct {
	base      string
	threshold float64
	httpw     *circuitbreaker.HTTPWrapper
	log       *zap.Logger
}

// NewClient builds a Qdrant client from configuration.
func NewClient(cfg config.VectorDBConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	httpw := circuitbreaker.NewHTTPWrapper(httpClient, "qdrant", "vectordb", logger)
	return &Client{
		base:      cfg.QdrantURL(),
		threshold: cfg.ScoreThreshold,
		httpw:     httpw,
		log:       logger,
	}
}

// qdrant search request/response (simplified)
type qdrantQueryRequest struct {
	Query          []float32 `json:"query"`
	Limit          int       `json:"limit"`
	ScoreThreshold *float64  `json:"score_threshold,omitempty"`
	WithPayload    bool      `json:"with_payload"`
}

type qdrantSearchResponse struct {
	Result []Point `json:"result"`
	Status string  `json:"status"`
}

// qdrantQueryResponse for the /points/query endpoint which nests points
type qdrantQueryResponse struct {
	Result struct {
		Points []Point `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

// Search runs a vector query against a collection. The modern
// /points/query endpoint is preferred with a fallback to the legacy
// /points/search for older servers. A missing collection yields an
// empty result rather than an error so callers can treat it as "no
// passages found".
func (c *Client) Search(ctx context.Context, collection string, vector []float32, limit int) ([]Point, error) {
	urlQuery := fmt.Sprintf("%s/collections/%s/points/query", c.base, collection)

	ctx, span := tracing.StartHTTPSpan(ctx, "POST", urlQuery)
	defer span.End()

	var thr *float64
	if c.threshold > 0 {
		thr = &c.threshold
	}
	buf, _ := json.Marshal(qdrantQueryRequest{Query: vector, Limit: limit, ScoreThreshold: thr, WithPayload: true})

	resp, err := c.post(ctx, urlQuery, buf)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var qr qdrantQueryResponse
		if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
			return nil, fmt.Errorf("failed to decode query response: %w", err)
		}
		return qr.Result.Points, nil
	}

	// fallback to /points/search
	urlSearch := fmt.Sprintf("%s/collections/%s/points/search", c.base, collection)
	legacy := map[string]interface{}{"vector": vector, "limit": limit, "with_payload": true}
	if c.threshold > 0 {
		legacy["score_threshold"] = c.threshold
	}
	buf2, _ := json.Marshal(legacy)

	resp2, err := c.post(ctx, urlSearch, buf2)
	if err != nil {
		return nil, fmt.Errorf("qdrant query/search failed: %w", err)
	}
	defer resp2.Body.Close()

	if resp2.StatusCode == http.StatusNotFound {
		c.log.Warn("Collection missing, returning no points", zap.String("collection", collection))
		return []Point{}, nil
	}
	if resp2.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("qdrant status %d", resp2.StatusCode)
	}
	var qr qdrantSearchResponse
	if err := json.NewDecoder(resp2.Body).Decode(&qr); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return qr.Result, nil
}

// Upsert inserts or updates points in a collection.
func (c *Client) Upsert(ctx context.Context, collection string, points []UpsertItem) (*UpsertResponse, error) {
	if len(points) == 0 {
		return &UpsertResponse{Status: "ok"}, nil
	}
	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.base, collection)

	ctx, span := tracing.StartHTTPSpan(ctx, "PUT", url)
	defer span.End()

	buf, _ := json.Marshal(map[string]interface{}{"points": points})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("qdrant upsert status %d", resp.StatusCode)
	}
	var r UpsertResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// EnsureCollection creates the collection when absent. When it already
// exists its vector size must match dim; a mismatch is reported as a
// DimensionMismatchError instead of being papered over.
func (c *Client) EnsureCollection(ctx context.Context, collection string, dim int) error {
	info, err := c.Info(ctx, collection)
	if err == nil {
		if info.VectorSize != dim {
			return DimensionMismatchError{
				Collection:        collection,
				ExpectedDimension: dim,
				ReceivedDimension: info.VectorSize,
				SuggestedAction:   "Rebuild the index or switch back to the embedding model the collection was built with",
			}
		}
		return nil
	}
	return c.createCollection(ctx, collection, dim)
}

// RecreateCollection drops and recreates the collection. Full index
// rebuilds start here.
func (c *Client) RecreateCollection(ctx context.Context, collection string, dim int) error {
	if err := c.DeleteCollection(ctx, collection); err != nil {
		return err
	}
	return c.createCollection(ctx, collection, dim)
}

// DeleteCollection removes a collection. Deleting a missing collection
// is not an error.
func (c *Client) DeleteCollection(ctx context.Context, collection string) error {
	url := fmt.Sprintf("%s/collections/%s", c.base, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpw.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("qdrant delete collection status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) createCollection(ctx context.Context, collection string, dim int) error {
	url := fmt.Sprintf("%s/collections/%s", c.base, collection)
	body := map[string]interface{}{
		"vectors": map[string]interface{}{"size": dim, "distance": "Cosine"},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpw.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant create collection status %d", resp.StatusCode)
	}
	c.log.Info("Created collection", zap.String("collection", collection), zap.Int("dimension", dim))
	return nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)
	return c.httpw.Do(req)
}
