// Package dataset parses uploaded measurement files (CSV/TSV/TXT/LVM/XLSX,
// optionally gzip-compressed) into a uniform columnar table.
package dataset

import (
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/xuri/excelize/v2"
)

var (
	// ErrEmpty is returned when a file contains no parseable rows.
	ErrEmpty = errors.New("dataset: no rows")

	// ErrUnsupportedFormat is returned for unknown file extensions.
	ErrUnsupportedFormat = errors.New("dataset: unsupported file format")
)

// Table is a parsed tabular file. Cells are kept as strings; numeric
// extraction happens on demand per column.
type Table struct {
	Columns   []string
	Rows      [][]string
	HasHeader bool
}

// ColumnStats summarizes one column for upload responses.
type ColumnStats struct {
	Type        string    `json:"type"` // "numeric" or "categorical"
	Min         float64   `json:"min,omitempty"`
	Max         float64   `json:"max,omitempty"`
	Mean        float64   `json:"mean,omitempty"`
	Std         float64   `json:"std,omitempty"`
	UniqueCount int       `json:"unique_count"`
	Unique      []string  `json:"unique_values,omitempty"`
}

// IsGzip reports whether data starts with the gzip magic bytes. Browser-side
// CompressionStream('gzip') uploads are detected this way.
func IsGzip(data []byte) bool {
	return len(data) > 2 && data[0] == 0x1f && data[1] == 0x8b
}

// Decompress returns the decompressed payload if data is gzip, otherwise data
// unchanged.
func Decompress(data []byte) ([]byte, error) {
	if !IsGzip(data) {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return out, nil
}

// Ext returns the lowercase extension of filename with any trailing ".gz"
// stripped first.
func Ext(filename string) string {
	name := strings.ToLower(filename)
	name = strings.TrimSuffix(name, ".gz")
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return name[i+1:]
}

// Parse decodes file contents based on the filename extension. Gzip payloads
// are decompressed transparently.
func Parse(contents []byte, filename string) (*Table, error) {
	contents, err := Decompress(contents)
	if err != nil {
		return nil, err
	}

	switch ext := Ext(filename); ext {
	case "txt", "lvm":
		return parseDelimited(contents, '\t')
	case "csv":
		return parseSniffed(contents)
	case "xlsx", "xls":
		return parseExcel(contents)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// parseSniffed tries comma, then tab, then semicolon, keeping the first
// delimiter that yields more than one column. Falls back to comma.
func parseSniffed(contents []byte) (*Table, error) {
	var firstErr error
	for _, delim := range []rune{',', '\t', ';'} {
		t, err := parseDelimited(contents, delim)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(t.Columns) > 1 {
			return t, nil
		}
	}
	t, err := parseDelimited(contents, ',')
	if err != nil && firstErr != nil {
		return nil, firstErr
	}
	return t, err
}

func parseDelimited(contents []byte, delim rune) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(contents))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	records = dropEmptyRows(records)
	if len(records) == 0 {
		return nil, ErrEmpty
	}
	return buildTable(records), nil
}

func parseExcel(contents []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(contents))
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmpty
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	rows = dropEmptyRows(rows)
	if len(rows) == 0 {
		return nil, ErrEmpty
	}
	return buildTable(rows), nil
}

// buildTable applies header detection and pads ragged rows so every row has
// the same width.
func buildTable(records [][]string) *Table {
	width := 0
	for _, rec := range records {
		if len(rec) > width {
			width = len(rec)
		}
	}
	for i, rec := range records {
		for len(rec) < width {
			rec = append(rec, "")
		}
		records[i] = rec
	}

	hasHeader := detectHeader(records)
	t := &Table{HasHeader: hasHeader}
	if hasHeader {
		t.Columns = records[0]
		t.Rows = records[1:]
	} else {
		t.Columns = make([]string, width)
		for i := range t.Columns {
			t.Columns[i] = fmt.Sprintf("Column_%d", i+1)
		}
		t.Rows = records
	}
	return t
}

// detectHeader reports whether the first row looks like column names: a row
// with no numeric cells above a row with at least one. An all-numeric first
// row is always data.
func detectHeader(records [][]string) bool {
	if len(records) == 0 {
		return false
	}
	first := records[0]
	numeric := 0
	for _, cell := range first {
		if _, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err == nil {
			numeric++
		}
	}
	if numeric == len(first) {
		return false
	}
	if len(records) < 2 {
		return numeric == 0
	}
	return numeric == 0
}

// NumRows returns the number of data rows.
func (t *Table) NumRows() int { return len(t.Rows) }

// NumCols returns the number of columns.
func (t *Table) NumCols() int { return len(t.Columns) }

// ColumnIndex resolves a column by name, returning -1 if absent.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// FloatColumn extracts column idx as float64 values. Cells that do not parse
// become NaN, mirroring the coercion the callers expect from raw instrument
// dumps.
func (t *Table) FloatColumn(idx int) ([]float64, error) {
	if idx < 0 || idx >= t.NumCols() {
		return nil, fmt.Errorf("dataset: column index %d out of range [0,%d)", idx, t.NumCols())
	}
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[idx]), 64)
		if err != nil {
			v = math.NaN()
		}
		out[i] = v
	}
	return out, nil
}

// FloatColumnByName is FloatColumn keyed by column name.
func (t *Table) FloatColumnByName(name string) ([]float64, error) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("dataset: no column named %q", name)
	}
	return t.FloatColumn(idx)
}

// Matrix extracts several named columns as row-major rows.
func (t *Table) Matrix(names []string) ([][]float64, error) {
	cols := make([][]float64, len(names))
	for i, name := range names {
		c, err := t.FloatColumnByName(name)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	rows := make([][]float64, t.NumRows())
	for r := range rows {
		rows[r] = make([]float64, len(names))
		for c := range names {
			rows[r][c] = cols[c][r]
		}
	}
	return rows, nil
}

// Stats summarizes every column for upload responses: numeric columns get
// range and moments, everything else a categorical value inventory.
func (t *Table) Stats() map[string]ColumnStats {
	out := make(map[string]ColumnStats, t.NumCols())
	for i, name := range t.Columns {
		vals := make([]float64, 0, len(t.Rows))
		uniq := make(map[string]struct{})
		numeric := true
		for _, row := range t.Rows {
			cell := strings.TrimSpace(row[i])
			uniq[cell] = struct{}{}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				numeric = false
				continue
			}
			vals = append(vals, v)
		}

		if numeric && len(vals) > 0 {
			mn, _ := stats.Min(vals)
			mx, _ := stats.Max(vals)
			mean, _ := stats.Mean(vals)
			sd, _ := stats.StandardDeviationSample(vals)
			out[name] = ColumnStats{
				Type:        "numeric",
				Min:         mn,
				Max:         mx,
				Mean:        mean,
				Std:         sd,
				UniqueCount: len(uniq),
			}
			continue
		}

		cs := ColumnStats{Type: "categorical", UniqueCount: len(uniq)}
		for _, row := range t.Rows {
			cell := strings.TrimSpace(row[i])
			if !contains(cs.Unique, cell) {
				cs.Unique = append(cs.Unique, cell)
				if len(cs.Unique) == 20 {
					break
				}
			}
		}
		out[name] = cs
	}
	return out
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func dropEmptyRows(records [][]string) [][]string {
	out := records[:0]
	for _, rec := range records {
		empty := true
		for _, cell := range rec {
			if strings.TrimSpace(cell) != "" {
				empty = false
				break
			}
		}
		if !empty {
			out = append(out, rec)
		}
	}
	return out
}
