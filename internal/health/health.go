// Package health aggregates dependency probes behind a single manager
// and serves them on /healthz. Critical checker failures mark the
// service not ready; non-critical failures only degrade it.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckStatus is the outcome of one probe.
type CheckStatus int

const (
	StatusHealthy CheckStatus = iota
	StatusDegraded
	StatusUnhealthy
	StatusUnknown
)

func (s CheckStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalJSON emits the textual status so /healthz stays readable.
func (s CheckStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// CheckResult is the outcome of a single checker invocation.
type CheckResult struct {
	Component string         `json:"component"`
	Status    CheckStatus    `json:"status"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Critical  bool           `json:"critical"`
	LatencyMS int64          `json:"latency_ms"`
	Timestamp time.Time      `json:"timestamp"`
}

// Checker is one named dependency probe.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
	IsCritical() bool
	Timeout() time.Duration
}

// Report is the aggregate answer served on /healthz.
type Report struct {
	Status     CheckStatus            `json:"status"`
	Message    string                 `json:"message"`
	Ready      bool                   `json:"ready"`
	Components map[string]CheckResult `json:"components"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Manager runs registered checkers on demand and caches the latest
// results for cheap cached reads.
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	last     map[string]CheckResult
	logger   *zap.Logger
}

// NewManager creates an empty health manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		checkers: make(map[string]Checker),
		last:     make(map[string]CheckResult),
		logger:   logger,
	}
}

// Register adds a checker. Names must be non-empty and unique.
func (m *Manager) Register(c Checker) error {
	name := c.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = c

	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", c.IsCritical()),
		zap.Duration("timeout", c.Timeout()))
	return nil
}

// Check runs every registered checker with its own timeout and caches
// the results.
func (m *Manager) Check(ctx context.Context) Report {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	components := make(map[string]CheckResult, len(checkers))
	for _, c := range checkers {
		components[c.Name()] = m.runChecker(ctx, c)
	}

	m.mu.Lock()
	for name, result := range components {
		m.last[name] = result
	}
	m.mu.Unlock()

	return summarize(components)
}

// LastReport summarizes the cached results without probing anything.
// Before the first Check it reports unknown.
func (m *Manager) LastReport() Report {
	m.mu.RLock()
	components := make(map[string]CheckResult, len(m.last))
	for name, result := range m.last {
		components[name] = result
	}
	m.mu.RUnlock()
	return summarize(components)
}

// Ready reports whether all critical dependencies pass.
func (m *Manager) Ready(ctx context.Context) bool {
	return m.Check(ctx).Ready
}

func (m *Manager) runChecker(ctx context.Context, c Checker) CheckResult {
	timeout := c.Timeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result := c.Check(checkCtx)
	result.Component = c.Name()
	result.Critical = c.IsCritical()
	result.LatencyMS = time.Since(start).Milliseconds()
	result.Timestamp = start

	if result.Status != StatusHealthy {
		m.logger.Warn("Health check not passing",
			zap.String("checker", c.Name()),
			zap.String("status", result.Status.String()),
			zap.String("error", result.Error))
	}
	return result
}

func summarize(components map[string]CheckResult) Report {
	report := Report{
		Components: components,
		Timestamp:  time.Now().UTC(),
	}
	if len(components) == 0 {
		report.Status = StatusUnknown
		report.Message = "no health checks registered"
		return report
	}

	criticalFailures := 0
	softFailures := 0
	degraded := 0
	for _, result := range components {
		switch result.Status {
		case StatusDegraded:
			degraded++
		case StatusUnhealthy:
			if result.Critical {
				criticalFailures++
			} else {
				softFailures++
			}
		}
	}

	switch {
	case criticalFailures > 0:
		report.Status = StatusUnhealthy
		report.Message = fmt.Sprintf("%d critical component(s) failing", criticalFailures)
	case degraded > 0:
		report.Status = StatusDegraded
		report.Message = fmt.Sprintf("%d component(s) degraded", degraded)
		report.Ready = true
	case softFailures > 0:
		report.Status = StatusDegraded
		report.Message = fmt.Sprintf("%d non-critical component(s) failing", softFailures)
		report.Ready = true
	default:
		report.Status = StatusHealthy
		report.Message = fmt.Sprintf("all %d components healthy", len(components))
		report.Ready = true
	}
	return report
}

// Handler serves the aggregate report. 200 while the service is ready,
// 503 otherwise; ?cached=true answers from the last probe results.
func (m *Manager) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var report Report
		if r.URL.Query().Get("cached") == "true" {
			report = m.LastReport()
		} else {
			report = m.Check(r.Context())
		}

		code := http.StatusOK
		if !report.Ready {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(report); err != nil {
			m.logger.Error("Failed to encode health report", zap.Error(err))
		}
	})
}
