// Package fetcher reads slide metadata tables from CSV and XLSX files into
// raw field rows for ingestion.
package fetcher

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Row is one source row keyed by header column name. Values keep their
// original spelling; only surrounding whitespace is trimmed.
type Row map[string]string

// ReadFile reads a metadata table, dispatching on the file extension.
// Returns the header columns in file order and one Row per data row.
func ReadFile(path string) ([]string, []Row, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, eris.Wrap(err, "fetcher: open csv")
		}
		defer f.Close()
		return ReadCSV(f)
	case ".xlsx":
		return ReadXLSX(path, XLSXOptions{})
	default:
		return nil, nil, eris.Errorf("fetcher: unsupported file type %q", filepath.Ext(path))
	}
}

// rowsFromRecords zips a header with raw string records, skipping fully
// empty rows and ignoring trailing cells with no column.
func rowsFromRecords(header []string, records [][]string) []Row {
	var rows []Row
	for _, rec := range records {
		row := make(Row, len(header))
		empty := true
		for i, col := range header {
			if col == "" {
				continue
			}
			var v string
			if i < len(rec) {
				v = strings.TrimSpace(rec[i])
			}
			row[col] = v
			if v != "" {
				empty = false
			}
		}
		if !empty {
			rows = append(rows, row)
		}
	}
	return rows
}

func trimHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.TrimSpace(h)
	}
	return out
}
