package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/perigee-labs/groundwork/internal/config"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	cfg := config.VectorDBConfig{Host: u.Hostname(), Port: port, Timeout: 5 * time.Second}
	return NewClient(cfg, zaptest.NewLogger(t))
}

func TestSearchModernEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/docs/points/query", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req qdrantQueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 3, req.Limit)
		assert.True(t, req.WithPayload)
		assert.Nil(t, req.ScoreThreshold)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":{"points":[
			{"id":"p1","score":0.92,"payload":{"doc_id":"a.md","text":"alpha"}},
			{"id":"p2","score":0.81,"payload":{"doc_id":"b.md","text":"beta"}}
		]},"status":"ok"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	points, err := client.Search(context.Background(), "docs", []float32{0.1, 0.2}, 3)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 0.92, points[0].Score)
	assert.Equal(t, "a.md", points[0].Payload["doc_id"])
}

func TestSearchFallsBackToLegacyEndpoint(t *testing.T) {
	var legacyCalled bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/docs/points/query":
			http.Error(w, "unknown endpoint", http.StatusBadRequest)
		case "/collections/docs/points/search":
			legacyCalled = true
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Contains(t, req, "vector")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"result":[{"id":1,"score":0.5,"payload":{"text":"legacy"}}],"status":"ok"}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	points, err := client.Search(context.Background(), "docs", []float32{0.3}, 5)
	require.NoError(t, err)
	assert.True(t, legacyCalled)
	require.Len(t, points, 1)
	assert.Equal(t, "legacy", points[0].Payload["text"])
}

func TestSearchMissingCollectionReturnsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"Collection not found"}}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	points, err := client.Search(context.Background(), "absent", []float32{0.1}, 7)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestUpsert(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/collections/docs/points", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("wait"))

		var body struct {
			Points []UpsertItem `json:"points"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Points, 2)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":{"operation_id":7,"status":"acknowledged"},"status":"ok","time":0.002}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Upsert(context.Background(), "docs", []UpsertItem{
		{ID: "a", Vector: []float32{1, 2}, Payload: map[string]any{"text": "one"}},
		{ID: "b", Vector: []float32{3, 4}, Payload: map[string]any{"text": "two"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty upsert")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Upsert(context.Background(), "docs", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestEnsureCollectionCreatesWhenAbsent(t *testing.T) {
	var created bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			http.NotFound(w, r)
		case http.MethodPut:
			created = true
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			vectors := body["vectors"].(map[string]any)
			assert.Equal(t, float64(4), vectors["size"])
			assert.Equal(t, "Cosine", vectors["distance"])
			w.Write([]byte(`{"result":true,"status":"ok"}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	require.NoError(t, client.EnsureCollection(context.Background(), "docs", 4))
	assert.True(t, created)
}

func TestEnsureCollectionDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":{"status":"green","points_count":10,
			"config":{"params":{"vectors":{"size":1536,"distance":"Cosine"}}}},"status":"ok"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.EnsureCollection(context.Background(), "docs", 768)

	var mismatch DimensionMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 1536, mismatch.ReceivedDimension)
	assert.Equal(t, 768, mismatch.ExpectedDimension)
}

func TestRecreateCollection(t *testing.T) {
	var deleted, created bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodDelete:
			deleted = true
			w.Write([]byte(`{"result":true,"status":"ok"}`))
		case http.MethodPut:
			created = true
			w.Write([]byte(`{"result":true,"status":"ok"}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	require.NoError(t, client.RecreateCollection(context.Background(), "docs", 8))
	assert.True(t, deleted)
	assert.True(t, created)
}

func TestDeleteCollectionToleratesMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	assert.NoError(t, client.DeleteCollection(context.Background(), "absent"))
}

func TestInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/docs", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":{"status":"green","points_count":42,
			"config":{"params":{"vectors":{"size":1536,"distance":"Cosine"}}}},"status":"ok"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	info, err := client.Info(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, 1536, info.VectorSize)
	assert.Equal(t, int64(42), info.PointsCount)
	assert.Equal(t, "docs", info.Name)
}
