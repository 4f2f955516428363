package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckpipe/duckpipe/internal/dataset"
)

var (
	ErrArityMismatch = errors.New("the number of paths must match the number of table names")
	ErrTableNotFound = errors.New("table not found")
)

// Column is one entry of a table schema, in engine order.
type Column struct {
	Name string
	Type string
}

// Result is a fully materialized query result.
type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

// Session owns one in-memory DuckDB instance and the catalog of tables
// registered into it. It is built once, mutated only during registration,
// and read-only while queries run.
type Session struct {
	db     *sql.DB
	tables []string
	bound  map[string]dataset.Format
}

func Open(ctx context.Context) (*Session, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return &Session{db: db, bound: map[string]dataset.Format{}}, nil
}

func (s *Session) Close() error {
	return s.db.Close()
}

// Register binds a file path or glob pattern as a queryable table. The
// format is inferred from the path extension. Registering an existing name
// replaces the prior binding.
func (s *Session) Register(ctx context.Context, tableName, sourcePath string) error {
	if strings.TrimSpace(tableName) == "" {
		return fmt.Errorf("table name is required")
	}
	if strings.TrimSpace(sourcePath) == "" {
		return fmt.Errorf("source path is required for table %q", tableName)
	}

	format, err := dataset.Infer(sourcePath)
	if err != nil {
		return fmt.Errorf("register table %q: %w", tableName, err)
	}

	viewSQL := fmt.Sprintf(
		`CREATE OR REPLACE VIEW %s AS SELECT * FROM %s(%s)`,
		quoteIdent(tableName), readerFunc(format), quoteString(sourcePath),
	)
	if _, err := s.db.ExecContext(ctx, viewSQL); err != nil {
		return fmt.Errorf("register table %q from %q: %w", tableName, sourcePath, err)
	}

	if _, exists := s.bound[tableName]; !exists {
		s.tables = append(s.tables, tableName)
	}
	s.bound[tableName] = format
	return nil
}

// RegisterAll registers paths[i] as tableNames[i], in order. A length
// mismatch fails before any registration; the first failing registration
// aborts the remainder.
func (s *Session) RegisterAll(ctx context.Context, paths, tableNames []string) error {
	if len(paths) != len(tableNames) {
		return fmt.Errorf("%w: %d paths, %d table names", ErrArityMismatch, len(paths), len(tableNames))
	}
	for i, path := range paths {
		if err := s.Register(ctx, tableNames[i], path); err != nil {
			return err
		}
	}
	return nil
}

// ListTables returns the registered table names in registration order.
func (s *Session) ListTables() []string {
	tables := make([]string, len(s.tables))
	copy(tables, s.tables)
	return tables
}

// Schema returns the ordered (name, type) pairs of a registered table.
func (s *Session) Schema(ctx context.Context, tableName string) ([]Column, error) {
	if _, exists := s.bound[tableName]; !exists {
		return nil, fmt.Errorf("schema of %q: %w", tableName, ErrTableNotFound)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`DESCRIBE %s`, quoteIdent(tableName)))
	if err != nil {
		return nil, fmt.Errorf("describe table %q: %w", tableName, err)
	}
	defer func() { _ = rows.Close() }()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("describe columns: %w", err)
	}

	columns := make([]Column, 0)
	for rows.Next() {
		values := make([]any, len(names))
		scanTargets := make([]any, len(names))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan describe row: %w", err)
		}
		columns = append(columns, Column{
			Name: stringValue(values[0]),
			Type: stringValue(values[1]),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate describe rows: %w", err)
	}
	return columns, nil
}

// Execute runs one SQL text against the session and materializes the result.
func (s *Session) Execute(ctx context.Context, sqlText string) (Result, error) {
	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return Result{}, fmt.Errorf("sql is required")
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

// Export writes the result of sqlText to destPath in the given format.
// The engine serializes directly to disk; an existing file is replaced.
func (s *Session) Export(ctx context.Context, sqlText, destPath string, format dataset.Format) error {
	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return fmt.Errorf("sql is required")
	}

	copySQL := fmt.Sprintf(
		`COPY (%s) TO %s (%s)`,
		sqlText, quoteString(destPath), copyOptions(format),
	)
	if _, err := s.db.ExecContext(ctx, copySQL); err != nil {
		return fmt.Errorf("export to %q: %w", destPath, err)
	}
	return nil
}

func readerFunc(format dataset.Format) string {
	switch format {
	case dataset.FormatCSV:
		return "read_csv_auto"
	case dataset.FormatJSON:
		return "read_json_auto"
	default:
		return "read_parquet"
	}
}

func copyOptions(format dataset.Format) string {
	switch format {
	case dataset.FormatCSV:
		return "FORMAT CSV, HEADER"
	case dataset.FormatJSON:
		return "FORMAT JSON"
	default:
		return "FORMAT PARQUET, COMPRESSION ZSTD"
	}
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func stringValue(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	default:
		return fmt.Sprintf("%v", typed)
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
