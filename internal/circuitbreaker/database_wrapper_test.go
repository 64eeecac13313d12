package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap/zaptest"
)

func newMockWrapper(t *testing.T) (*DatabaseWrapper, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewDatabaseWrapper(sqlx.NewDb(db, "sqlmock"), zaptest.NewLogger(t)), mock
}

func TestDatabaseWrapperNormalOperations(t *testing.T) {
	wrapper, mock := newMockWrapper(t)
	ctx := context.Background()

	mock.ExpectPing()
	if err := wrapper.PingContext(ctx); err != nil {
		t.Errorf("PingContext failed: %v", err)
	}

	mock.ExpectExec("INSERT INTO runs").WillReturnResult(sqlmock.NewResult(1, 1))
	if err := wrapper.ExecContext(ctx, "INSERT INTO runs (id) VALUES ($1)", "r-1"); err != nil {
		t.Errorf("ExecContext failed: %v", err)
	}

	mock.ExpectQuery("SELECT count").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	var count int
	if err := wrapper.GetContext(ctx, &count, "SELECT count(*) FROM runs"); err != nil {
		t.Errorf("GetContext failed: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDatabaseWrapperTransact(t *testing.T) {
	wrapper, mock := newMockWrapper(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO run_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := wrapper.Transact(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO runs (id) VALUES ($1)", "r-1"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "INSERT INTO run_events (run_id) VALUES ($1)", "r-1")
		return err
	})
	if err != nil {
		t.Errorf("Transact failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDatabaseWrapperTransactRollsBackOnError(t *testing.T) {
	wrapper, mock := newMockWrapper(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectRollback()

	wantErr := errors.New("write rejected")
	err := wrapper.Transact(ctx, func(tx *sqlx.Tx) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Transact error = %v, want %v", err, wantErr)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDatabaseWrapperNoRowsIsNotFailure(t *testing.T) {
	wrapper, mock := newMockWrapper(t)
	wrapper.cb.config.FailureThreshold = 2
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		mock.ExpectQuery("SELECT state FROM runs").WillReturnRows(sqlmock.NewRows([]string{"state"}))
		var state string
		err := wrapper.GetContext(ctx, &state, "SELECT state FROM runs WHERE run_id = $1", "missing")
		if !errors.Is(err, sql.ErrNoRows) {
			t.Fatalf("expected sql.ErrNoRows, got %v", err)
		}
	}

	if wrapper.IsCircuitBreakerOpen() {
		t.Error("missing rows must not open the breaker")
	}
}

func TestDatabaseWrapperOpensAfterFailures(t *testing.T) {
	wrapper, mock := newMockWrapper(t)
	wrapper.cb.config.FailureThreshold = 2
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		mock.ExpectExec("INSERT").WillReturnError(errors.New("connection refused"))
		if err := wrapper.ExecContext(ctx, "INSERT INTO runs (id) VALUES ($1)", "r"); err == nil {
			t.Fatal("expected exec error")
		}
	}

	if !wrapper.IsCircuitBreakerOpen() {
		t.Error("breaker should open after consecutive failures")
	}

	if err := wrapper.ExecContext(ctx, "INSERT INTO runs (id) VALUES ($1)", "r"); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("expected ErrCircuitBreakerOpen, got %v", err)
	}
}
