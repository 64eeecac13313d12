package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "groundwork_runs_started_total",
			Help: "Total number of pipeline runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundwork_runs_completed_total",
			Help: "Total number of pipeline runs completed",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "groundwork_run_duration_seconds",
			Help:    "End-to-end run duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	RunRetries = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "groundwork_run_retries",
			Help:    "Verification retries consumed per run",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)

	// Stage metrics
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "groundwork_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundwork_stage_errors_total",
			Help: "Total number of stage failures",
		},
		[]string{"stage"},
	)

	// Verification metrics
	VerificationVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundwork_verification_verdicts_total",
			Help: "Total number of verification verdicts",
		},
		[]string{"verdict"},
	)

	// Generation backend metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundwork_llm_requests_total",
			Help: "Total number of generation backend requests",
		},
		[]string{"agent", "status"},
	)

	LLMRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "groundwork_llm_request_latency_seconds",
			Help:    "Generation backend request latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"agent"},
	)

	LLMReprompts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "groundwork_llm_reprompts_total",
			Help: "Total number of schema-conformance re-prompts",
		},
	)

	// Retrieval metrics
	RetrievalSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundwork_retrieval_searches_total",
			Help: "Total number of passage retrievals",
		},
		[]string{"collection", "status"},
	)

	RetrievalPassages = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "groundwork_retrieval_passages",
			Help:    "Passages returned per retrieval after deduplication",
			Buckets: []float64{0, 1, 2, 3, 5, 7, 10, 15},
		},
	)

	RetrievalLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "groundwork_retrieval_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundwork_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "groundwork_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	EmbeddingCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundwork_embedding_cache_hits_total",
			Help: "Total number of embedding cache hits",
		},
		[]string{"tier"},
	)

	EmbeddingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "groundwork_embedding_cache_misses_total",
			Help: "Total number of embedding cache misses",
		},
	)

	// Index metrics
	IndexRebuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundwork_index_rebuilds_total",
			Help: "Total number of full index rebuilds",
		},
		[]string{"status"},
	)

	IndexChunks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "groundwork_index_chunks",
			Help: "Chunks written by the most recent index rebuild",
		},
	)

	// Evaluation metrics
	EvalCases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundwork_eval_cases_total",
			Help: "Total number of evaluation cases executed",
		},
		[]string{"result"},
	)
)

// RecordRunMetrics records metrics for a completed run.
func RecordRunMetrics(status string, durationSeconds float64, retries int) {
	RunsCompleted.WithLabelValues(status).Inc()
	RunDuration.Observe(durationSeconds)
	RunRetries.Observe(float64(retries))
}

// RecordStageMetrics records one stage invocation.
func RecordStageMetrics(stage string, durationSeconds float64, err error) {
	StageDuration.WithLabelValues(stage).Observe(durationSeconds)
	if err != nil {
		StageErrors.WithLabelValues(stage).Inc()
	}
}

// RecordLLMMetrics records one generation backend request.
func RecordLLMMetrics(agent, status string, durationSeconds float64) {
	LLMRequests.WithLabelValues(agent, status).Inc()
	if durationSeconds > 0 {
		LLMRequestLatency.WithLabelValues(agent).Observe(durationSeconds)
	}
}

// RecordRetrievalMetrics records one passage retrieval.
func RecordRetrievalMetrics(collection, status string, passages int, durationSeconds float64) {
	RetrievalSearches.WithLabelValues(collection, status).Inc()
	if status == "success" {
		RetrievalPassages.Observe(float64(passages))
	}
	if durationSeconds > 0 {
		RetrievalLatency.WithLabelValues(collection).Observe(durationSeconds)
	}
}

// RecordEmbeddingMetrics records one embedding request.
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}
