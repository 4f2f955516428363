package duckpipe

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/duckpipe/duckpipe/internal/config"
	"github.com/duckpipe/duckpipe/internal/dataset"
	"github.com/duckpipe/duckpipe/internal/history"
	historypostgres "github.com/duckpipe/duckpipe/internal/history/postgres"
	"github.com/duckpipe/duckpipe/internal/observability"
	"github.com/duckpipe/duckpipe/internal/pipeline"
	"github.com/duckpipe/duckpipe/internal/publish"
	"github.com/duckpipe/duckpipe/internal/session"
	s3store "github.com/duckpipe/duckpipe/internal/storage/s3"
)

type Options struct {
	Lookup config.LookupFunc
	Stdout io.Writer
	Stderr io.Writer
}

// Run drives one CLI invocation and returns the process exit code:
// 0 when every query file succeeded (or there was nothing to do),
// 1 on runtime failures, 2 on usage or configuration errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	lookup := defaults.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	fs := flag.NewFlagSet("duckpipe", flag.ContinueOnError)
	fs.SetOutput(stderr)

	rootDir := fs.String("root", "", "project root for relative paths (default: nearest ancestor with go.mod or .git)")
	sqlDir := fs.String("sql-dir", "", "directory containing .sql query files")
	outputDir := fs.String("output-dir", "", "directory for export artifacts")
	format := fs.String("format", "", "export format: parquet, csv or json")
	abortOnError := fs.Bool("abort-on-error", false, "stop after the first failed query file")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	command := "run"
	if fs.NArg() > 0 {
		command = fs.Arg(0)
	}

	cfg, err := config.Load("duckpipe", lookup)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return 2
	}

	flagsSet := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { flagsSet[f.Name] = true })
	if *rootDir != "" {
		cfg.Pipeline.RootDir = *rootDir
	}
	if *sqlDir != "" {
		cfg.Pipeline.SQLDir = *sqlDir
	}
	if *outputDir != "" {
		cfg.Pipeline.OutputDir = *outputDir
	}
	if *format != "" {
		parsed, err := dataset.ParseFormat(*format)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "%v\n", err)
			return 2
		}
		cfg.Pipeline.ExportFormat = parsed
	}
	if flagsSet["abort-on-error"] {
		cfg.Pipeline.AbortOnError = *abortOnError
	}

	logger := observability.NewLogger(cfg, stderr)

	switch command {
	case "run":
		return runPipeline(ctx, cfg, logger, stdout)
	case "tables":
		return printTables(ctx, cfg, logger, stdout, stderr)
	case "history":
		return printHistory(ctx, cfg, fs.Args()[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
}

func runPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger, stdout io.Writer) int {
	root := projectRoot(cfg)
	sess, err := openRegisteredSession(ctx, cfg, root, logger)
	if err != nil {
		logger.Error("failed to prepare session", slog.Any("error", err))
		return 1
	}
	defer func() { _ = sess.Close() }()

	if cfg.Observability.MetricsAddr != "" {
		observability.ServeMetrics(ctx, cfg.Observability.MetricsAddr, logger)
	}

	var sink pipeline.ArtifactSink
	if cfg.Publish.Enabled {
		store, err := s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.Publish.Endpoint,
			Region:           cfg.Publish.Region,
			Bucket:           cfg.Publish.Bucket,
			AccessKeyID:      cfg.Publish.AccessKeyID,
			SecretAccessKey:  cfg.Publish.SecretAccessKey,
			UseSSL:           cfg.Publish.UseSSL,
			Prefix:           cfg.Publish.Prefix,
			AutoCreateBucket: cfg.Publish.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			return 1
		}
		publisher, err := publish.New(store)
		if err != nil {
			logger.Error("failed to initialize publisher", slog.Any("error", err))
			return 1
		}
		sink = publisher
	}

	runner := &pipeline.Runner{
		Session: sess,
		Options: pipeline.Options{
			SQLDir:       resolvePath(root, cfg.Pipeline.SQLDir),
			OutputDir:    resolvePath(root, cfg.Pipeline.OutputDir),
			Format:       cfg.Pipeline.ExportFormat,
			AbortOnError: cfg.Pipeline.AbortOnError,
			Sink:         sink,
		},
		Logger: logger,
	}

	started := time.Now().UTC()
	outcomes, err := runner.Run(ctx)
	if err != nil {
		logger.Error("pipeline run failed", slog.Any("error", err))
		return 1
	}
	finished := time.Now().UTC()

	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.Status == pipeline.StatusSucceeded {
			succeeded++
			_, _ = fmt.Fprintf(stdout, "ok    %s  rows=%d  -> %s\n", outcome.QueryFile, outcome.Rows, outcome.ArtifactPath)
		} else {
			_, _ = fmt.Fprintf(stdout, "FAIL  %s  stage=%s: %v\n", outcome.QueryFile, outcome.Stage, outcome.Err)
		}
	}
	_, _ = fmt.Fprintf(stdout, "%d query files: %d succeeded, %d failed\n", len(outcomes), succeeded, len(outcomes)-succeeded)

	if cfg.History.Enabled {
		if err := recordHistory(ctx, cfg, started, finished, outcomes); err != nil {
			logger.Warn("failed to record run history", slog.Any("error", err))
		}
	}

	if pipeline.HasFailures(outcomes) {
		return 1
	}
	return 0
}

func printTables(ctx context.Context, cfg config.Config, logger *slog.Logger, stdout, stderr io.Writer) int {
	root := projectRoot(cfg)
	sess, err := openRegisteredSession(ctx, cfg, root, logger)
	if err != nil {
		logger.Error("failed to prepare session", slog.Any("error", err))
		return 1
	}
	defer func() { _ = sess.Close() }()

	type columnJSON struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	type tableJSON struct {
		Table   string       `json:"table"`
		Columns []columnJSON `json:"columns"`
	}

	tables := make([]tableJSON, 0)
	for _, name := range sess.ListTables() {
		columns, err := sess.Schema(ctx, name)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "schema of %q: %v\n", name, err)
			return 1
		}
		entry := tableJSON{Table: name, Columns: make([]columnJSON, 0, len(columns))}
		for _, column := range columns {
			entry.Columns = append(entry.Columns, columnJSON{Name: column.Name, Type: column.Type})
		}
		tables = append(tables, entry)
	}

	return writeJSON(stdout, stderr, tables)
}

func printHistory(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) int {
	if cfg.History.DSN == "" {
		_, _ = fmt.Fprintln(stderr, "DUCKPIPE_HISTORY_DSN is required for the history command")
		return 2
	}
	db, err := historypostgres.Open(ctx, historypostgres.DBConfig{
		DSN:             cfg.History.DSN,
		MaxOpenConns:    cfg.History.MaxOpenConns,
		MaxIdleConns:    cfg.History.MaxIdleConns,
		ConnMaxIdleTime: cfg.History.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.History.ConnMaxLifetime,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "open history db: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()
	repo := historypostgres.NewRepository(db)

	if len(args) == 0 {
		runs, err := repo.ListRuns(ctx, 20)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "list runs: %v\n", err)
			return 1
		}
		return writeJSON(stdout, stderr, runs)
	}

	runID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid run id %q\n", args[0])
		return 2
	}
	outcomes, err := repo.ListRunOutcomes(ctx, runID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "list run outcomes: %v\n", err)
		return 1
	}
	return writeJSON(stdout, stderr, outcomes)
}

func openRegisteredSession(ctx context.Context, cfg config.Config, root string, logger *slog.Logger) (*session.Session, error) {
	sess, err := session.Open(ctx)
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(cfg.Datasets.Paths))
	for i, path := range cfg.Datasets.Paths {
		paths[i] = resolvePath(root, path)
	}
	if err := sess.RegisterAll(ctx, paths, cfg.Datasets.TableNames); err != nil {
		_ = sess.Close()
		return nil, err
	}
	for _, name := range cfg.Datasets.TableNames {
		observability.ObserveRegistration()
		logger.Info("table registered", slog.String("table", name))
	}
	return sess, nil
}

func recordHistory(ctx context.Context, cfg config.Config, started, finished time.Time, outcomes []pipeline.Outcome) error {
	db, err := historypostgres.Open(ctx, historypostgres.DBConfig{
		DSN:             cfg.History.DSN,
		MaxOpenConns:    cfg.History.MaxOpenConns,
		MaxIdleConns:    cfg.History.MaxIdleConns,
		ConnMaxIdleTime: cfg.History.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.History.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	repo := historypostgres.NewRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}

	inputs := make([]history.OutcomeInput, 0, len(outcomes))
	for _, outcome := range outcomes {
		errText := ""
		if outcome.Err != nil {
			errText = outcome.Err.Error()
		}
		inputs = append(inputs, history.OutcomeInput{
			QueryFile:    outcome.QueryFile,
			Status:       string(outcome.Status),
			Stage:        string(outcome.Stage),
			ErrorText:    errText,
			RowCount:     int64(outcome.Rows),
			DurationMs:   outcome.Duration.Milliseconds(),
			ArtifactPath: outcome.ArtifactPath,
		})
	}
	_, err = repo.RecordRun(ctx, history.RecordRunInput{
		SQLDir:       cfg.Pipeline.SQLDir,
		ExportFormat: string(cfg.Pipeline.ExportFormat),
		StartedAt:    started,
		FinishedAt:   finished,
		Outcomes:     inputs,
	})
	return err
}

// projectRoot anchors relative sql/output/data paths so runs behave the
// same regardless of the invocation directory.
func projectRoot(cfg config.Config) string {
	if cfg.Pipeline.RootDir != "" {
		return cfg.Pipeline.RootDir
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	probe := wd
	for {
		for _, marker := range []string{"go.mod", ".git"} {
			if _, err := os.Stat(filepath.Join(probe, marker)); err == nil {
				return probe
			}
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			return wd
		}
		probe = parent
	}
}

func resolvePath(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func writeJSON(stdout, stderr io.Writer, value any) int {
	formatted, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "encode output: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, string(formatted))
	return 0
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: duckpipe [flags] [command]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  run              register datasets, run every .sql file, export results (default)")
	_, _ = fmt.Fprintln(w, "  tables           print registered tables and their schemas")
	_, _ = fmt.Fprintln(w, "  history [id]     print recent runs, or the outcomes of one run")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "flags:")
	_, _ = fmt.Fprintln(w, "  -root, -sql-dir, -output-dir, -format, -abort-on-error")
}
