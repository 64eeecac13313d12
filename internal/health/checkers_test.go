package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/perigee-labs/groundwork/internal/circuitbreaker"
)

func TestHTTPCheckerHealthy(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPChecker("llm", srv.URL+"/v1/models", "sk-test", true)
	assert.Equal(t, "llm", c.Name())
	assert.True(t, c.IsCritical())

	result := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, http.StatusOK, result.Details["status_code"])
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestHTTPCheckerClientErrorDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	result := NewHTTPChecker("llm", srv.URL, "", false).Check(context.Background())
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Equal(t, "endpoint answered 401", result.Message)
}

func TestHTTPCheckerServerErrorUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	result := NewHTTPChecker("qdrant", srv.URL+"/healthz", "", true).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
}

func TestHTTPCheckerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	result := NewHTTPChecker("qdrant", url, "", true).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "endpoint unreachable", result.Message)
	assert.NotEmpty(t, result.Error)
}

func TestRedisCheckerHealthy(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()
	wrapper := circuitbreaker.NewRedisWrapper(client, zaptest.NewLogger(t))

	c := NewRedisChecker(wrapper)
	assert.False(t, c.IsCritical())

	result := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Contains(t, result.Details, "latency_ms")
}

func TestRedisCheckerServerDown(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()
	wrapper := circuitbreaker.NewRedisWrapper(client, zaptest.NewLogger(t))
	s.Close()

	result := NewRedisChecker(wrapper).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "redis ping failed", result.Message)
	assert.NotEmpty(t, result.Error)
}

func TestDatabaseCheckerHealthy(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()
	mock.ExpectPing()

	wrapper := circuitbreaker.NewDatabaseWrapper(sqlx.NewDb(mockDB, "sqlmock"), zaptest.NewLogger(t))

	c := NewDatabaseChecker(wrapper)
	assert.False(t, c.IsCritical())

	result := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Contains(t, result.Details, "open_connections")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseCheckerPingFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()
	mock.ExpectPing().WillReturnError(assert.AnError)

	wrapper := circuitbreaker.NewDatabaseWrapper(sqlx.NewDb(mockDB, "sqlmock"), zaptest.NewLogger(t))

	result := NewDatabaseChecker(wrapper).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "database ping failed", result.Message)
}
