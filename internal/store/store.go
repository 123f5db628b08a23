// Package store persists batch run history in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// RunRecord summarizes one batch run.
type RunRecord struct {
	ID          string
	Project     string
	StartedAt   time.Time
	FinishedAt  time.Time
	Total       int
	Passed      int
	Failed      int
	ReportDir   string
	UploadPhase string
	TrackingID  string
}

// TestCaseResult is the stored outcome of one test case of a run.
type TestCaseResult struct {
	RunID         string
	TestCaseID    string
	FeatureFile   string
	Status        string
	TotalSteps    int
	PassedSteps   int
	FailedSteps   int
	StartedAt     time.Time
	FinishedAt    time.Time
	FailureDetail string
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS batch_runs (
    id UUID PRIMARY KEY,
    project TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    total INT NOT NULL,
    passed INT NOT NULL,
    failed INT NOT NULL,
    report_dir TEXT NOT NULL,
    upload_phase TEXT NOT NULL DEFAULT '',
    tracking_id TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS test_case_results (
    run_id UUID NOT NULL REFERENCES batch_runs(id) ON DELETE CASCADE,
    test_case_id TEXT NOT NULL,
    feature_file TEXT NOT NULL,
    status TEXT NOT NULL,
    total_steps INT NOT NULL,
    passed_steps INT NOT NULL,
    failed_steps INT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    failure_detail TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, test_case_id)
);`

const insertRunSQL = `
INSERT INTO batch_runs (id, project, started_at, finished_at, total, passed, failed, report_dir, upload_phase, tracking_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`

var resultColumns = []string{
	"run_id", "test_case_id", "feature_file", "status", "total_steps", "passed_steps",
	"failed_steps", "started_at", "finished_at", "failure_detail",
}

// Store provides a PostgreSQL implementation of the run history repository.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the history tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create history schema: %w", err)
	}
	return nil
}

// PersistRun writes a run and its test case results in one transaction.
func (s *Store) PersistRun(ctx context.Context, run RunRecord, results []TestCaseResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, insertRunSQL,
		run.ID, run.Project, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.Total, run.Passed, run.Failed, run.ReportDir, run.UploadPhase, run.TrackingID,
	); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	if len(results) > 0 {
		if err := s.persistResults(ctx, tx, run.ID, results); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Run history stored", zap.String("run_id", run.ID), zap.Int("test_cases", len(results)))
	return nil
}

func (s *Store) persistResults(ctx context.Context, tx pgx.Tx, runID string, results []TestCaseResult) error {
	rows := make([][]interface{}, len(results))
	for i, r := range results {
		rows[i] = []interface{}{
			runID, r.TestCaseID, r.FeatureFile, r.Status,
			r.TotalSteps, r.PassedSteps, r.FailedSteps,
			r.StartedAt.UTC(), r.FinishedAt.UTC(), r.FailureDetail,
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"test_case_results"}, resultColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy test case results: %w", err)
	}
	if int(copyCount) != len(results) {
		return fmt.Errorf("mismatch in copied results count: expected %d, got %d", len(results), copyCount)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
        SELECT id::text, project, started_at, finished_at, total, passed, failed, report_dir, upload_phase, tracking_id
        FROM batch_runs
        ORDER BY started_at DESC
        LIMIT $1;
    `
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Project, &r.StartedAt, &r.FinishedAt, &r.Total, &r.Passed,
			&r.Failed, &r.ReportDir, &r.UploadPhase, &r.TrackingID); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

// GetRunResults returns the test case results of a run in execution order.
func (s *Store) GetRunResults(ctx context.Context, runID string) ([]TestCaseResult, error) {
	query := `
        SELECT test_case_id, feature_file, status, total_steps, passed_steps, failed_steps, started_at, finished_at, failure_detail
        FROM test_case_results
        WHERE run_id = $1
        ORDER BY started_at ASC;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query test case results: %w", err)
	}
	defer rows.Close()

	var results []TestCaseResult
	for rows.Next() {
		r := TestCaseResult{RunID: runID}
		if err := rows.Scan(&r.TestCaseID, &r.FeatureFile, &r.Status, &r.TotalSteps, &r.PassedSteps,
			&r.FailedSteps, &r.StartedAt, &r.FinishedAt, &r.FailureDetail); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return results, nil
}
