package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/duckpipe/duckpipe/internal/dataset"
	"github.com/duckpipe/duckpipe/internal/observability"
	"github.com/duckpipe/duckpipe/internal/session"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Stage names the step of a query file that failed.
type Stage string

const (
	StageRead    Stage = "read"
	StageExecute Stage = "execute"
	StageExport  Stage = "export"
	StagePublish Stage = "publish"
)

// Outcome is the per-file report entry of one pipeline run.
type Outcome struct {
	QueryFile    string
	ArtifactPath string
	Status       Status
	Stage        Stage
	Rows         int
	Duration     time.Duration
	Err          error
}

// ArtifactSink receives successfully exported artifacts, e.g. for upload
// to an object store.
type ArtifactSink interface {
	Publish(ctx context.Context, localPath, name string) error
}

type Options struct {
	SQLDir       string
	OutputDir    string
	Format       dataset.Format
	AbortOnError bool
	Sink         ArtifactSink
}

// Runner executes every .sql file of a directory against a populated
// session, one at a time in lexicographic filename order, and exports each
// result to the output directory.
type Runner struct {
	Session *session.Session
	Options Options
	Logger  *slog.Logger
}

// Run returns one outcome per query file, in execution order. A failing
// file is reported and skipped; the run continues unless AbortOnError is
// set. The returned error covers setup problems only, never a single
// query failure.
func (r *Runner) Run(ctx context.Context) ([]Outcome, error) {
	if r.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	format := r.Options.Format
	if format == "" {
		format = dataset.FormatParquet
	}

	files, err := listQueryFiles(r.Options.SQLDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(r.Options.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %q: %w", r.Options.OutputDir, err)
	}

	outcomes := make([]Outcome, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		outcome := r.runOne(ctx, file, format)
		observability.ObserveQuery(string(outcome.Status), outcome.Duration)
		if outcome.Status == StatusSucceeded {
			observability.ObserveExport(format.Ext(), outcome.Rows)
			logger.Info("query file succeeded",
				slog.String("file", outcome.QueryFile),
				slog.String("artifact", outcome.ArtifactPath),
				slog.Int("rows", outcome.Rows),
				slog.String("duration", outcome.Duration.String()),
			)
		} else {
			logger.Error("query file failed",
				slog.String("file", outcome.QueryFile),
				slog.String("stage", string(outcome.Stage)),
				slog.Any("error", outcome.Err),
			)
		}
		outcomes = append(outcomes, outcome)

		if outcome.Status == StatusFailed && r.Options.AbortOnError {
			break
		}
	}
	return outcomes, nil
}

func (r *Runner) runOne(ctx context.Context, file string, format dataset.Format) Outcome {
	start := time.Now()
	name := filepath.Base(file)
	outcome := Outcome{QueryFile: name}

	sqlBytes, err := os.ReadFile(file)
	if err != nil {
		return failed(outcome, StageRead, start, fmt.Errorf("read query file: %w", err))
	}
	sqlText := string(sqlBytes)

	result, err := r.Session.Execute(ctx, sqlText)
	if err != nil {
		return failed(outcome, StageExecute, start, err)
	}
	outcome.Rows = len(result.Rows)

	stem := strings.TrimSuffix(name, filepath.Ext(name))
	artifactName := stem + "." + format.Ext()
	destPath := filepath.Join(r.Options.OutputDir, artifactName)
	if err := r.Session.Export(ctx, sqlText, destPath, format); err != nil {
		return failed(outcome, StageExport, start, err)
	}
	outcome.ArtifactPath = destPath

	if r.Options.Sink != nil {
		if err := r.Options.Sink.Publish(ctx, destPath, artifactName); err != nil {
			return failed(outcome, StagePublish, start, fmt.Errorf("publish artifact: %w", err))
		}
	}

	outcome.Status = StatusSucceeded
	outcome.Duration = time.Since(start)
	return outcome
}

func failed(outcome Outcome, stage Stage, start time.Time, err error) Outcome {
	outcome.Status = StatusFailed
	outcome.Stage = stage
	outcome.Err = err
	outcome.Duration = time.Since(start)
	return outcome
}

// HasFailures reports whether any outcome failed.
func HasFailures(outcomes []Outcome) bool {
	for _, outcome := range outcomes {
		if outcome.Status == StatusFailed {
			return true
		}
	}
	return false
}

func listQueryFiles(sqlDir string) ([]string, error) {
	info, err := os.Stat(sqlDir)
	if err != nil {
		return nil, fmt.Errorf("stat sql dir %q: %w", sqlDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sql dir %q is not a directory", sqlDir)
	}

	entries, err := os.ReadDir(sqlDir)
	if err != nil {
		return nil, fmt.Errorf("read sql dir %q: %w", sqlDir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".sql") {
			files = append(files, filepath.Join(sqlDir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
