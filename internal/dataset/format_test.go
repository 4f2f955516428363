package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestInferByExtension(t *testing.T) {
	cases := []struct {
		path string
		want Format
	}{
		{"data/examples/ops/file_1.parquet", FormatParquet},
		{"data/examples/rides/*.parquet", FormatParquet},
		{"weather.csv", FormatCSV},
		{"events.CSV", FormatCSV},
		{"payload.json", FormatJSON},
	}
	for _, tc := range cases {
		got, err := Infer(tc.path)
		if err != nil {
			t.Fatalf("Infer(%q) error = %v", tc.path, err)
		}
		if got != tc.want {
			t.Fatalf("Infer(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestInferRejectsUnknownExtension(t *testing.T) {
	_, err := Infer("data/examples/notes.txt")
	if err == nil {
		t.Fatal("expected unsupported format error")
	}
	var unsupported *UnsupportedFormatError
	if !errors.As(err, &unsupported) {
		t.Fatalf("error = %T, want *UnsupportedFormatError", err)
	}
	if unsupported.Ext != ".txt" {
		t.Fatalf("Ext = %q", unsupported.Ext)
	}
}

func TestInferRejectsMissingExtension(t *testing.T) {
	_, err := Infer("data/examples/dataset")
	if err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestInferResolvesGlobWithoutExtension(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"part-b.csv", "part-a.csv"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("id\n1\n"), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}

	format, err := Infer(filepath.Join(dir, "part-*"))
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	if format != FormatCSV {
		t.Fatalf("format = %q, want %q", format, FormatCSV)
	}
}

func TestParseFormat(t *testing.T) {
	if _, err := ParseFormat("xlsx"); err == nil {
		t.Fatal("expected error for unknown format")
	}
	format, err := ParseFormat(" Parquet ")
	if err != nil {
		t.Fatalf("ParseFormat() error = %v", err)
	}
	if format != FormatParquet {
		t.Fatalf("format = %q", format)
	}
}
