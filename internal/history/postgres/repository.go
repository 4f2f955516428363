package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/duckpipe/duckpipe/internal/history"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the history tables when they do not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS pipeline_run (
    run_id BIGSERIAL PRIMARY KEY,
    sql_dir TEXT NOT NULL,
    export_format TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    succeeded INT NOT NULL,
    failed INT NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS pipeline_outcome (
    run_id BIGINT NOT NULL REFERENCES pipeline_run(run_id) ON DELETE CASCADE,
    position INT NOT NULL,
    query_file TEXT NOT NULL,
    status TEXT NOT NULL,
    stage TEXT NOT NULL DEFAULT '',
    error_text TEXT NOT NULL DEFAULT '',
    row_count BIGINT NOT NULL DEFAULT 0,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    artifact_path TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, position)
)`,
	}
	for _, statement := range statements {
		if _, err := r.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("ensure history schema: %w", err)
		}
	}
	return nil
}

func (r *Repository) RecordRun(ctx context.Context, in history.RecordRunInput) (history.Run, error) {
	succeeded := 0
	failed := 0
	for _, outcome := range in.Outcomes {
		if outcome.Status == "succeeded" {
			succeeded++
		} else {
			failed++
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return history.Run{}, fmt.Errorf("begin history tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	runQuery := `
INSERT INTO pipeline_run (sql_dir, export_format, started_at, finished_at, succeeded, failed)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING run_id`
	var runID int64
	if err := tx.QueryRowContext(ctx, runQuery,
		in.SQLDir, in.ExportFormat, in.StartedAt, in.FinishedAt, succeeded, failed,
	).Scan(&runID); err != nil {
		return history.Run{}, fmt.Errorf("insert pipeline run: %w", err)
	}

	outcomeQuery := `
INSERT INTO pipeline_outcome (run_id, position, query_file, status, stage, error_text, row_count, duration_ms, artifact_path)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	for position, outcome := range in.Outcomes {
		if _, err := tx.ExecContext(ctx, outcomeQuery,
			runID, position, outcome.QueryFile, outcome.Status, outcome.Stage,
			outcome.ErrorText, outcome.RowCount, outcome.DurationMs, outcome.ArtifactPath,
		); err != nil {
			return history.Run{}, fmt.Errorf("insert pipeline outcome %q: %w", outcome.QueryFile, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return history.Run{}, fmt.Errorf("commit history tx: %w", err)
	}
	return history.Run{
		RunID:        runID,
		SQLDir:       in.SQLDir,
		ExportFormat: in.ExportFormat,
		StartedAt:    in.StartedAt,
		FinishedAt:   in.FinishedAt,
		Succeeded:    succeeded,
		Failed:       failed,
	}, nil
}

func (r *Repository) ListRuns(ctx context.Context, limit int) ([]history.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT run_id, sql_dir, export_format, started_at, finished_at, succeeded, failed
FROM pipeline_run
ORDER BY run_id DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := make([]history.Run, 0)
	for rows.Next() {
		var run history.Run
		if err := rows.Scan(&run.RunID, &run.SQLDir, &run.ExportFormat, &run.StartedAt, &run.FinishedAt, &run.Succeeded, &run.Failed); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

func (r *Repository) ListRunOutcomes(ctx context.Context, runID int64) ([]history.OutcomeRecord, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `
SELECT EXISTS (SELECT 1 FROM pipeline_run WHERE run_id = $1)`, runID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check run: %w", err)
	}
	if !exists {
		return nil, history.ErrNotFound
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT run_id, position, query_file, status, stage, error_text, row_count, duration_ms, artifact_path
FROM pipeline_outcome
WHERE run_id = $1
ORDER BY position ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	outcomes := make([]history.OutcomeRecord, 0)
	for rows.Next() {
		var outcome history.OutcomeRecord
		if err := rows.Scan(
			&outcome.RunID, &outcome.Position, &outcome.QueryFile, &outcome.Status,
			&outcome.Stage, &outcome.ErrorText, &outcome.RowCount, &outcome.DurationMs,
			&outcome.ArtifactPath,
		); err != nil {
			return nil, fmt.Errorf("scan outcome row: %w", err)
		}
		outcomes = append(outcomes, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome rows: %w", err)
	}
	return outcomes, nil
}
