// Package tabular reads and writes the hexagon-keyed tables the pipeline
// joins and predicts on. A Table keeps every input column and row in their
// original order; callers only ever append columns or fill existing cells,
// so what goes in comes back out unchanged apart from those edits.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mobility-cli/internal/fetcher"
)

// Column names the pipeline depends on.
const (
	HexColumn    = "hex_id"
	TargetColumn = "cost_of_living"
)

// SchemaError is returned when an input table is missing a required column
// or holds a value the pipeline cannot use. It is fatal; the pipeline never
// guesses around a broken schema.
type SchemaError struct {
	Path   string // source file, empty for in-memory tables
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("tabular: column %q: %s", e.Column, e.Reason)
	}
	return fmt.Sprintf("tabular: %s: column %q: %s", e.Path, e.Column, e.Reason)
}

// IsSchemaError reports whether err wraps a SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// Table is an ordered, string-typed table as read from CSV or XLSX.
// Rows are padded to the header width, so row[i] is always addressable
// for any column index.
type Table struct {
	Path    string // source file, empty for derived tables
	Columns []string
	Rows    [][]string
}

// New creates an empty table with the given column order.
func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// ReadTable loads a CSV or XLSX table from path. The first row is the
// header; all remaining rows are data. Extra columns are preserved.
func ReadTable(path string) (*Table, error) {
	var (
		header []string
		rows   [][]string
		err    error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		var all [][]string
		all, err = fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
		if err != nil {
			return nil, eris.Wrap(err, "tabular: read xlsx")
		}
		if len(all) == 0 {
			return nil, eris.Errorf("tabular: %s: empty table", path)
		}
		header, rows = all[0], all[1:]
	default:
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "tabular: open table")
		}
		defer f.Close() //nolint:errcheck
		header, rows, err = fetcher.ReadCSV(f, fetcher.CSVOptions{TrimSpace: true})
		if err != nil {
			return nil, eris.Wrap(err, "tabular: read csv")
		}
	}

	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	t := &Table{Path: path, Columns: header, Rows: rows}
	t.normalize()
	return t, nil
}

// normalize pads short rows to the header width and trims longer ones.
// XLSX readers drop trailing empty cells, which would otherwise make
// column indexing position-dependent.
func (t *Table) normalize() {
	w := len(t.Columns)
	for i, row := range t.Rows {
		switch {
		case len(row) < w:
			padded := make([]string, w)
			copy(padded, row)
			t.Rows[i] = padded
		case len(row) > w:
			t.Rows[i] = row[:w]
		}
	}
}

// ColumnIndex returns the position of the named column.
func (t *Table) ColumnIndex(name string) (int, bool) {
	for i, c := range t.Columns {
		if c == name {
			return i, true
		}
	}
	return 0, false
}

// RequireColumn returns the position of the named column, or a SchemaError
// if the table does not have it.
func (t *Table) RequireColumn(name string) (int, error) {
	idx, ok := t.ColumnIndex(name)
	if !ok {
		return 0, &SchemaError{Path: t.Path, Column: name, Reason: "missing"}
	}
	return idx, nil
}

// Column returns the values of the column at idx, one per row.
func (t *Table) Column(idx int) []string {
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out
}

// AddColumn appends a column with one value per row.
func (t *Table) AddColumn(name string, values []string) error {
	if len(values) != len(t.Rows) {
		return eris.Errorf("tabular: column %q has %d values for %d rows", name, len(values), len(t.Rows))
	}
	if _, ok := t.ColumnIndex(name); ok {
		return eris.Errorf("tabular: column %q already present", name)
	}
	t.Columns = append(t.Columns, name)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], values[i])
	}
	return nil
}

// AddRow appends a data row, padded or trimmed to the column count.
func (t *Table) AddRow(row []string) {
	w := len(t.Columns)
	r := make([]string, w)
	copy(r, row)
	t.Rows = append(t.Rows, r)
}

// Clone returns a deep copy. Joins and predictions edit the copy so the
// caller's table stays untouched.
func (t *Table) Clone() *Table {
	c := &Table{
		Path:    t.Path,
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]string, len(t.Rows)),
	}
	for i, row := range t.Rows {
		c.Rows[i] = append([]string(nil), row...)
	}
	return c
}

// WriteCSV writes the table to w as header plus rows.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return eris.Wrap(err, "tabular: write header")
	}
	for _, row := range t.Rows {
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "tabular: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "tabular: flush csv")
}

// WriteFile writes the table as CSV to path.
func (t *Table) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "tabular: create output")
	}
	defer f.Close() //nolint:errcheck

	if err := t.WriteCSV(f); err != nil {
		return err
	}
	return eris.Wrap(f.Close(), "tabular: close output")
}
