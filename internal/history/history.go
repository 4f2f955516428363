// Package history defines the optional run-history records duckpipe keeps
// about pipeline executions.
package history

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("run not found")

// Run is one recorded pipeline execution.
type Run struct {
	RunID        int64
	SQLDir       string
	ExportFormat string
	StartedAt    time.Time
	FinishedAt   time.Time
	Succeeded    int
	Failed       int
}

// OutcomeRecord is the persisted form of one per-file pipeline outcome.
type OutcomeRecord struct {
	RunID        int64
	Position     int
	QueryFile    string
	Status       string
	Stage        string
	ErrorText    string
	RowCount     int64
	DurationMs   int64
	ArtifactPath string
}

type RecordRunInput struct {
	SQLDir       string
	ExportFormat string
	StartedAt    time.Time
	FinishedAt   time.Time
	Outcomes     []OutcomeInput
}

type OutcomeInput struct {
	QueryFile    string
	Status       string
	Stage        string
	ErrorText    string
	RowCount     int64
	DurationMs   int64
	ArtifactPath string
}

type Recorder interface {
	RecordRun(ctx context.Context, in RecordRunInput) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	ListRunOutcomes(ctx context.Context, runID int64) ([]OutcomeRecord, error)
}
