package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/perigee-labs/groundwork/internal/circuitbreaker"
)

const (
	defaultCheckTimeout = 5 * time.Second
	slowLatency         = 100 * time.Millisecond
)

// HTTPChecker probes an HTTP endpoint with a GET request. It backs the
// generation backend and Qdrant checks; any endpoint that answers below
// 500 counts as reachable.
type HTTPChecker struct {
	name     string
	url      string
	bearer   string
	critical bool
	client   *http.Client
}

// NewHTTPChecker creates a GET probe against url. bearer is attached as
// an Authorization header when non-empty.
func NewHTTPChecker(name, url, bearer string, critical bool) *HTTPChecker {
	return &HTTPChecker{
		name:     name,
		url:      url,
		bearer:   bearer,
		critical: critical,
		client:   &http.Client{Timeout: defaultCheckTimeout},
	}
}

func (h *HTTPChecker) Name() string           { return h.name }
func (h *HTTPChecker) IsCritical() bool       { return h.critical }
func (h *HTTPChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (h *HTTPChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Details: map[string]any{"url": h.url}}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "failed to build probe request"
		return result
	}
	if h.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+h.bearer)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "endpoint unreachable"
		return result
	}
	defer resp.Body.Close()

	result.Details["status_code"] = resp.StatusCode
	switch {
	case resp.StatusCode < 400:
		result.Status = StatusHealthy
		result.Message = "endpoint reachable"
	case resp.StatusCode < 500:
		// Auth and routing errors still prove the process is up.
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("endpoint answered %d", resp.StatusCode)
	default:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("endpoint answered %d", resp.StatusCode)
	}
	return result
}

// RedisChecker pings the embedding cache tier. Redis is an optional
// cache, so its loss degrades the service instead of failing it.
type RedisChecker struct {
	wrapper *circuitbreaker.RedisWrapper
}

// NewRedisChecker creates a checker over the shared Redis wrapper.
func NewRedisChecker(wrapper *circuitbreaker.RedisWrapper) *RedisChecker {
	return &RedisChecker{wrapper: wrapper}
}

func (r *RedisChecker) Name() string           { return "redis" }
func (r *RedisChecker) IsCritical() bool       { return false }
func (r *RedisChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (r *RedisChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{}

	if r.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "redis circuit breaker is open"
		return result
	}

	start := time.Now()
	err := r.wrapper.Ping(ctx).Err()
	latency := time.Since(start)
	result.Details = map[string]any{"latency_ms": latency.Milliseconds()}

	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "redis ping failed"
	case latency > slowLatency:
		result.Status = StatusDegraded
		result.Message = "redis responding with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = "redis healthy"
	}
	return result
}

// DatabaseChecker pings the run archive store. The archive is written
// after runs complete and read back on demand; losing it never blocks
// task execution, so the check is non-critical.
type DatabaseChecker struct {
	wrapper *circuitbreaker.DatabaseWrapper
}

// NewDatabaseChecker creates a checker over the shared database wrapper.
func NewDatabaseChecker(wrapper *circuitbreaker.DatabaseWrapper) *DatabaseChecker {
	return &DatabaseChecker{wrapper: wrapper}
}

func (d *DatabaseChecker) Name() string           { return "database" }
func (d *DatabaseChecker) IsCritical() bool       { return false }
func (d *DatabaseChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (d *DatabaseChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{}

	if d.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "database circuit breaker is open"
		return result
	}

	start := time.Now()
	err := d.wrapper.PingContext(ctx)
	latency := time.Since(start)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "database ping failed"
		result.Details = map[string]any{"latency_ms": latency.Milliseconds()}
		return result
	}

	stats := d.wrapper.DB().Stats()
	result.Details = map[string]any{
		"latency_ms":           latency.Milliseconds(),
		"open_connections":     stats.OpenConnections,
		"in_use_connections":   stats.InUse,
		"idle_connections":     stats.Idle,
		"max_open_connections": stats.MaxOpenConnections,
	}

	switch {
	case stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections:
		result.Status = StatusDegraded
		result.Message = "database connection pool exhausted"
	case latency > slowLatency:
		result.Status = StatusDegraded
		result.Message = "database responding with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = "database healthy"
	}
	return result
}
