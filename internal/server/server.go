// Package server exposes the pipeline over HTTP: task submission, run
// lookup against the archive, health, and metrics. Runs execute
// synchronously on the request; the response carries the full final
// state.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/perigee-labs/groundwork/internal/archive"
	"github.com/perigee-labs/groundwork/internal/config"
	"github.com/perigee-labs/groundwork/internal/health"
	"github.com/perigee-labs/groundwork/internal/run"
	"github.com/perigee-labs/groundwork/internal/tracing"
)

const (
	defaultPort            = 8080
	defaultReadTimeout     = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultGracefulTimeout = 10 * time.Second
	defaultRunTimeout      = 5 * time.Minute
	archiveWriteTimeout    = 10 * time.Second
	lookupTimeout          = 5 * time.Second
)

// TaskRunner executes one task end to end. The location and model
// parameters override the configured index collection and generation
// model when non-empty.
type TaskRunner func(ctx context.Context, task, location, model string) (*run.State, error)

// RunStore is the slice of the run archive the HTTP surface needs.
// *archive.Store satisfies it.
type RunStore interface {
	SaveRun(ctx context.Context, state *run.State) error
	LoadRun(ctx context.Context, runID string) (*run.State, error)
	LoadEvents(ctx context.Context, runID string) ([]archive.EventRecord, error)
	ListRuns(ctx context.Context, limit int) ([]archive.RunSummary, error)
}

// Server wires the HTTP surface. The archive store is optional; run
// lookup endpoints answer 503 when it is absent.
type Server struct {
	cfg     config.ServiceConfig
	runTask TaskRunner
	store   RunStore
	health  *health.Manager
	logger  *zap.Logger

	runTimeout time.Duration
}

// New builds a Server from the loaded configuration and its
// collaborators. runTask must be non-nil; store and healthMgr may be
// nil when the deployment runs without an archive or health checks.
func New(cfg *config.Config, runTask TaskRunner, store RunStore, healthMgr *health.Manager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	runTimeout := cfg.Pipeline.RunTimeout
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}
	return &Server{
		cfg:        cfg.Service,
		runTask:    runTask,
		store:      store,
		health:     healthMgr,
		logger:     logger,
		runTimeout: runTimeout,
	}
}

// Handler assembles the route table. Exposed separately from Run so
// tests can drive the server through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/events", s.handleRunEvents)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.health != nil {
		mux.Handle("/healthz", s.health.Handler())
	}
	return s.logRequests(mux)
}

// Run serves until ctx is cancelled, then drains in-flight requests
// within the configured graceful timeout.
func (s *Server) Run(ctx context.Context) error {
	port := s.cfg.Port
	if port <= 0 {
		port = defaultPort
	}
	readTimeout := s.cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     s.Handler(),
		ReadTimeout: readTimeout,
		// Task submission blocks for the whole run, so the write
		// timeout stays off unless configured explicitly.
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP service listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http service failed: %w", err)
	case <-ctx.Done():
	}

	graceful := s.cfg.GracefulTimeout
	if graceful <= 0 {
		graceful = defaultGracefulTimeout
	}
	s.logger.Info("HTTP service shutting down", zap.Duration("graceful_timeout", graceful))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), graceful)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http service shutdown failed: %w", err)
	}
	s.logger.Info("HTTP service stopped")
	return nil
}

// statusRecorder captures the response code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests logs one line per request and carries the caller's trace
// id through when a valid traceparent header is present.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		}
		if traceID, _, _, ok := tracing.ParseTraceparent(r.Header.Get("traceparent")); ok {
			fields = append(fields, zap.String("trace_id", traceID))
		}
		s.logger.Info("HTTP request", fields...)
	})
}
