package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/duckpipe/duckpipe/internal/history"
)

func TestRecordRunInsertsRunAndOutcomes(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	started := time.Now().Add(-time.Minute).UTC()
	finished := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO pipeline_run (sql_dir, export_format, started_at, finished_at, succeeded, failed)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING run_id`)).
		WithArgs("sql", "parquet", started, finished, 1, 1).
		WillReturnRows(sqlmock.NewRows([]string{"run_id"}).AddRow(int64(7)))
	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO pipeline_outcome (run_id, position, query_file, status, stage, error_text, row_count, duration_ms, artifact_path)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)).
		WithArgs(int64(7), 0, "01_totals.sql", "succeeded", "", "", int64(12), int64(80), "data/exports/01_totals.parquet").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO pipeline_outcome (run_id, position, query_file, status, stage, error_text, row_count, duration_ms, artifact_path)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)).
		WithArgs(int64(7), 1, "02_bad.sql", "failed", "execute", "syntax error", int64(0), int64(3), "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	run, err := repo.RecordRun(context.Background(), history.RecordRunInput{
		SQLDir:       "sql",
		ExportFormat: "parquet",
		StartedAt:    started,
		FinishedAt:   finished,
		Outcomes: []history.OutcomeInput{
			{QueryFile: "01_totals.sql", Status: "succeeded", RowCount: 12, DurationMs: 80, ArtifactPath: "data/exports/01_totals.parquet"},
			{QueryFile: "02_bad.sql", Status: "failed", Stage: "execute", ErrorText: "syntax error", DurationMs: 3},
		},
	})
	if err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}
	if run.RunID != 7 {
		t.Fatalf("RunID = %d", run.RunID)
	}
	if run.Succeeded != 1 || run.Failed != 1 {
		t.Fatalf("Succeeded/Failed = %d/%d", run.Succeeded, run.Failed)
	}
	assertSQLMock(t, mock)
}

func TestRecordRunRollsBackOnOutcomeFailure(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	started := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO pipeline_run (sql_dir, export_format, started_at, finished_at, succeeded, failed)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING run_id`)).
		WillReturnRows(sqlmock.NewRows([]string{"run_id"}).AddRow(int64(9)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO pipeline_outcome`)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := repo.RecordRun(context.Background(), history.RecordRunInput{
		SQLDir:       "sql",
		ExportFormat: "csv",
		StartedAt:    started,
		FinishedAt:   started,
		Outcomes:     []history.OutcomeInput{{QueryFile: "a.sql", Status: "succeeded"}},
	})
	if err == nil {
		t.Fatal("expected insert error")
	}
	assertSQLMock(t, mock)
}

func TestListRuns(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT run_id, sql_dir, export_format, started_at, finished_at, succeeded, failed
FROM pipeline_run
ORDER BY run_id DESC
LIMIT $1`)).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "sql_dir", "export_format", "started_at", "finished_at", "succeeded", "failed"}).
			AddRow(int64(3), "sql", "parquet", now, now, 4, 0).
			AddRow(int64(2), "sql", "parquet", now, now, 3, 1))

	runs, err := repo.ListRuns(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != 3 || runs[1].Failed != 1 {
		t.Fatalf("runs = %+v", runs)
	}
	assertSQLMock(t, mock)
}

func TestListRunOutcomesUnknownRun(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT EXISTS (SELECT 1 FROM pipeline_run WHERE run_id = $1)`)).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := repo.ListRunOutcomes(context.Background(), 42)
	if !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestListRunOutcomesOrdersByPosition(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT EXISTS (SELECT 1 FROM pipeline_run WHERE run_id = $1)`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT run_id, position, query_file, status, stage, error_text, row_count, duration_ms, artifact_path
FROM pipeline_outcome
WHERE run_id = $1
ORDER BY position ASC`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "position", "query_file", "status", "stage", "error_text", "row_count", "duration_ms", "artifact_path"}).
			AddRow(int64(3), 0, "a.sql", "succeeded", "", "", int64(2), int64(10), "data/exports/a.parquet").
			AddRow(int64(3), 1, "b.sql", "failed", "export", "permission denied", int64(0), int64(5), ""))

	outcomes, err := repo.ListRunOutcomes(context.Background(), 3)
	if err != nil {
		t.Fatalf("ListRunOutcomes() error = %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d", len(outcomes))
	}
	if outcomes[0].QueryFile != "a.sql" || outcomes[1].Stage != "export" {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}
