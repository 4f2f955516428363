package dataset

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Format identifies a file format the session can read and export.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
)

type UnsupportedFormatError struct {
	Path string
	Ext  string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Ext == "" {
		return fmt.Sprintf("unsupported file format for %q: no file extension", e.Path)
	}
	return fmt.Sprintf("unsupported file format %q for %q", e.Ext, e.Path)
}

func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case FormatParquet:
		return FormatParquet, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("invalid format %q, expected one of parquet, csv, json", raw)
	}
}

// Infer determines the format of a source path from its file extension.
// When the path is a glob pattern without a usable extension, the extension
// of the first lexicographic match decides.
func Infer(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" || strings.ContainsAny(ext, "*?[") {
		matches, err := filepath.Glob(path)
		if err == nil && len(matches) > 0 {
			sort.Strings(matches)
			ext = strings.ToLower(filepath.Ext(matches[0]))
		}
	}

	switch ext {
	case ".parquet":
		return FormatParquet, nil
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", &UnsupportedFormatError{Path: path, Ext: ext}
	}
}

func (f Format) Ext() string {
	return string(f)
}

func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSON:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
