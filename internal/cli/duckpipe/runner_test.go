package duckpipe

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/duckpipe/duckpipe/internal/config"
)

type fixtureRow struct {
	ID    int64   `parquet:"id"`
	Value float64 `parquet:"value"`
}

func TestRunExecutesPipelineAndExitsZero(t *testing.T) {
	root := newProjectFixture(t, map[string]string{
		"sql/10_doubled.sql": "SELECT id, value*2 AS doubled FROM t ORDER BY id",
	})

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), nil, Options{
		Lookup: fixtureLookup(root),
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "ok    10_doubled.sql") {
		t.Fatalf("stdout = %q", stdout.String())
	}
	if !strings.Contains(stdout.String(), "1 query files: 1 succeeded, 0 failed") {
		t.Fatalf("stdout = %q", stdout.String())
	}
	if _, err := os.Stat(filepath.Join(root, "data/exports/10_doubled.parquet")); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
}

func TestRunReportsFailuresWithExitOne(t *testing.T) {
	root := newProjectFixture(t, map[string]string{
		"sql/01_good.sql": "SELECT id FROM t",
		"sql/02_bad.sql":  "SELEC broken",
	})

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), nil, Options{
		Lookup: fixtureLookup(root),
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), "FAIL  02_bad.sql  stage=execute") {
		t.Fatalf("stdout = %q", stdout.String())
	}
	if _, err := os.Stat(filepath.Join(root, "data/exports/01_good.parquet")); err != nil {
		t.Fatalf("sibling artifact missing: %v", err)
	}
}

func TestRunEmptySQLDirSucceeds(t *testing.T) {
	root := newProjectFixture(t, nil)
	if err := os.MkdirAll(filepath.Join(root, "sql"), 0o755); err != nil {
		t.Fatalf("mkdir sql: %v", err)
	}

	var stdout bytes.Buffer
	code := Run(context.Background(), nil, Options{
		Lookup: fixtureLookup(root),
		Stdout: &stdout,
	})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), "0 query files: 0 succeeded, 0 failed") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunCSVFormatFlagOverridesConfig(t *testing.T) {
	root := newProjectFixture(t, map[string]string{
		"sql/totals.sql": "SELECT id, value FROM t ORDER BY id",
	})

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"-format", "csv"}, Options{
		Lookup: fixtureLookup(root),
		Stdout: &stdout,
	})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	content, err := os.ReadFile(filepath.Join(root, "data/exports/totals.csv"))
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if !strings.HasPrefix(string(content), "id,value\n") {
		t.Fatalf("csv content = %q", content)
	}
}

func TestTablesCommandPrintsSchemas(t *testing.T) {
	root := newProjectFixture(t, nil)

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"tables"}, Options{
		Lookup: fixtureLookup(root),
		Stdout: &stdout,
	})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	output := stdout.String()
	if !strings.Contains(output, `"table": "t"`) {
		t.Fatalf("output = %q", output)
	}
	if !strings.Contains(output, `"name": "id"`) || !strings.Contains(output, `"name": "value"`) {
		t.Fatalf("output = %q", output)
	}
}

func TestUnknownCommandExitsTwo(t *testing.T) {
	root := newProjectFixture(t, nil)
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"compact"}, Options{
		Lookup: fixtureLookup(root),
		Stderr: &stderr,
	})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "unknown command") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestInvalidFormatFlagExitsTwo(t *testing.T) {
	root := newProjectFixture(t, nil)
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-format", "xlsx"}, Options{
		Lookup: fixtureLookup(root),
		Stderr: &stderr,
	})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
}

func TestInvalidConfigExitsTwo(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), nil, Options{
		Lookup: mapLookup(map[string]string{"DUCKPIPE_PROFILE": "staging"}),
		Stderr: &stderr,
	})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
}

func TestRunFailsOnBadDatasetRegistration(t *testing.T) {
	root := newProjectFixture(t, nil)
	lookup := mapLookup(map[string]string{
		"DUCKPIPE_PROFILE":     "test",
		"DUCKPIPE_ROOT":        root,
		"DUCKPIPE_DATA_PATHS":  "data/examples/t.parquet,data/examples/notes.txt",
		"DUCKPIPE_TABLE_NAMES": "t,notes",
	})

	var stderr bytes.Buffer
	code := Run(context.Background(), nil, Options{Lookup: lookup, Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
}

// newProjectFixture lays out a project root with one registered parquet
// dataset and the given sql files.
func newProjectFixture(t *testing.T, sqlFiles map[string]string) string {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module fixture\n"), 0o644); err != nil {
		t.Fatalf("write go.mod: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "data/examples"), 0o755); err != nil {
		t.Fatalf("mkdir data: %v", err)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[fixtureRow](buf)
	if _, err := writer.Write([]fixtureRow{{ID: 1, Value: 10}, {ID: 2, Value: 20}}); err != nil {
		t.Fatalf("write parquet rows: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close parquet writer: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "data/examples/t.parquet"), buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write parquet fixture: %v", err)
	}

	for name, content := range sqlFiles {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir %q: %v", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %q: %v", name, err)
		}
	}
	return root
}

func fixtureLookup(root string) config.LookupFunc {
	return mapLookup(map[string]string{
		"DUCKPIPE_PROFILE":     "test",
		"DUCKPIPE_ROOT":        root,
		"DUCKPIPE_DATA_PATHS":  "data/examples/t.parquet",
		"DUCKPIPE_TABLE_NAMES": "t",
	})
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
