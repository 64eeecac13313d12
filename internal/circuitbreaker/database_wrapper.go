package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper wraps the run archive database with a circuit
// breaker. The archive is write-mostly, so the surface is limited to
// ping, exec, the two sqlx read helpers, and a transaction runner.
type DatabaseWrapper struct {
	db     *sqlx.DB
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewDatabaseWrapper creates a database wrapper with circuit breaker.
func NewDatabaseWrapper(db *sqlx.DB, logger *zap.Logger) *DatabaseWrapper {
	cb := NewCircuitBreaker("database", GetDatabaseConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("database", "run-archive", cb)
	return &DatabaseWrapper{db: db, cb: cb, logger: logger}
}

// PingContext wraps the connectivity check with the circuit breaker.
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dw.execute(ctx, func() error {
		return dw.db.PingContext(ctx)
	})
}

// ExecContext wraps a statement execution with the circuit breaker.
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) error {
	return dw.execute(ctx, func() error {
		_, err := dw.db.ExecContext(ctx, query, args...)
		return err
	})
}

// GetContext wraps a single-row scan with the circuit breaker. A
// missing row (sql.ErrNoRows) is not a breaker failure.
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	var scanErr error
	err := dw.execute(ctx, func() error {
		scanErr = dw.db.GetContext(ctx, dest, query, args...)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return nil
		}
		return scanErr
	})
	if err != nil {
		return err
	}
	return scanErr
}

// SelectContext wraps a multi-row scan with the circuit breaker.
func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.execute(ctx, func() error {
		return dw.db.SelectContext(ctx, dest, query, args...)
	})
}

// Transact runs fn inside a transaction, all through one breaker call
// so a failing storage backend opens the breaker once, not per
// statement.
func (dw *DatabaseWrapper) Transact(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return dw.execute(ctx, func() error {
		tx, err := dw.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				dw.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
			}
			return err
		}
		return tx.Commit()
	})
}

// IsCircuitBreakerOpen reports whether the breaker is open.
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}

// DB exposes the underlying handle for migrations and close.
func (dw *DatabaseWrapper) DB() *sqlx.DB {
	return dw.db
}

func (dw *DatabaseWrapper) execute(ctx context.Context, fn func() error) error {
	err := dw.cb.Execute(ctx, fn)
	GlobalMetricsCollector.RecordRequest("database", "run-archive", dw.cb.State(), err == nil)
	return err
}
