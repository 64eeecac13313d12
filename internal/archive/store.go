// Package archive persists completed runs. Writes happen after the
// orchestrator returns, so a lost archive never affects a run's
// outcome; the read side re-materializes states for the HTTP API.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/perigee-labs/groundwork/internal/circuitbreaker"
	"github.com/perigee-labs/groundwork/internal/config"
	"github.com/perigee-labs/groundwork/internal/run"
)

// ErrRunNotFound is returned when no archived run matches the id.
var ErrRunNotFound = errors.New("run not found")

// RunSummary is one row of the archive listing.
type RunSummary struct {
	RunID       string    `db:"run_id" json:"run_id"`
	Task        string    `db:"task" json:"task"`
	Status      string    `db:"status" json:"status"`
	RetryCount  int       `db:"retry_count" json:"retry_count"`
	StartedAt   time.Time `db:"started_at" json:"started_at"`
	CompletedAt time.Time `db:"completed_at" json:"completed_at"`
}

// EventRecord is one audit log entry of an archived run.
type EventRecord struct {
	ID         string    `db:"id" json:"id"`
	RunID      string    `db:"run_id" json:"run_id"`
	Seq        int       `db:"seq" json:"seq"`
	Agent      string    `db:"agent" json:"agent"`
	Action     string    `db:"action" json:"action"`
	Outcome    string    `db:"outcome" json:"outcome"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}

// Store is the run archive over Postgres or SQLite.
type Store struct {
	db     *circuitbreaker.DatabaseWrapper
	driver string
	logger *zap.Logger
}

// Open connects to the configured database, verifies connectivity and
// applies the schema.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("archive requires database.dsn")
	}
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite3"
	}
	if driver != "postgres" && driver != "sqlite3" {
		return nil, fmt.Errorf("unsupported archive driver %q", driver)
	}

	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	if driver == "postgres" {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	} else {
		// SQLite serializes writers; one connection avoids lock errors.
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping archive database: %w", err)
	}

	store := newStore(db, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	store.logger.Info("Run archive ready", zap.String("driver", driver))
	return store, nil
}

func newStore(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     circuitbreaker.NewDatabaseWrapper(db, logger),
		driver: db.DriverName(),
		logger: logger,
	}
}

// EnsureSchema applies the archive DDL. Statements are idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.driver) {
		if err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply archive schema: %w", err)
		}
	}
	return nil
}

// SaveRun archives one completed run: the runs row plus one run_events
// row per audit log entry, in a single transaction. Re-archiving the
// same run is a no-op.
func (s *Store) SaveRun(ctx context.Context, state *run.State) error {
	if state == nil {
		return errors.New("cannot archive a nil state")
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode run state: %w", err)
	}

	err = s.db.Transact(ctx, func(tx *sqlx.Tx) error {
		insertRun := tx.Rebind(`INSERT INTO runs
			(run_id, task, status, retry_count, max_retries, final_output, state, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (run_id) DO NOTHING`)
		if _, err := tx.ExecContext(ctx, insertRun,
			state.RunID, state.Task, state.Status(), state.RetryCount, state.MaxRetries,
			state.FinalOutput, string(payload), state.StartedAt, state.CompletedAt); err != nil {
			return err
		}

		insertEvent := tx.Rebind(`INSERT INTO run_events
			(id, run_id, seq, agent, action, outcome, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (run_id, seq) DO NOTHING`)
		for seq, entry := range state.Log {
			if _, err := tx.ExecContext(ctx, insertEvent,
				uuid.New().String(), state.RunID, seq,
				entry.Agent, entry.Action, entry.Outcome, entry.Timestamp); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to archive run: %w", err)
	}

	s.logger.Info("Archived run",
		zap.String("run_id", state.RunID),
		zap.String("status", state.Status()),
		zap.Int("events", len(state.Log)))
	return nil
}

// LoadRun re-materializes an archived run from its state document.
func (s *Store) LoadRun(ctx context.Context, runID string) (*run.State, error) {
	var payload string
	query := s.rebind(`SELECT state FROM runs WHERE run_id = ?`)
	err := s.db.GetContext(ctx, &payload, query, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	state, err := run.Normalize([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to decode archived run: %w", err)
	}
	return state, nil
}

// LoadEvents returns the audit log rows of a run in insertion order.
func (s *Store) LoadEvents(ctx context.Context, runID string) ([]EventRecord, error) {
	var events []EventRecord
	query := s.rebind(`SELECT id, run_id, seq, agent, action, outcome, occurred_at
		FROM run_events WHERE run_id = ? ORDER BY seq`)
	if err := s.db.SelectContext(ctx, &events, query, runID); err != nil {
		return nil, fmt.Errorf("failed to load run events: %w", err)
	}
	return events, nil
}

// ListRuns returns the most recently completed runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	var summaries []RunSummary
	query := s.rebind(`SELECT run_id, task, status, retry_count, started_at, completed_at
		FROM runs ORDER BY completed_at DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &summaries, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return summaries, nil
}

// Wrapper exposes the circuit-breaker wrapper for health checks.
func (s *Store) Wrapper() *circuitbreaker.DatabaseWrapper {
	return s.db
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.DB().Close()
}

func (s *Store) rebind(query string) string {
	return sqlx.Rebind(sqlx.BindType(s.driver), query)
}
