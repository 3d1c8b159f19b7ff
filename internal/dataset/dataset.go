// Package dataset holds the append-only two-column table produced by the
// ingestion pipeline and its on-disk representation.
package dataset

import (
	"fmt"
	"io"
)

// Column names, in schema order.
const (
	ColumnContent  = "content"
	ColumnMetadata = "metadata"
)

// Metadata is the opaque key/value mapping reported by the extractor.
type Metadata map[string]any

// Row is one ingested document.
type Row struct {
	Content  []string
	Metadata []Metadata
}

// Dataset is an in-memory table of rows. Rows are only ever appended.
type Dataset struct {
	rows []Row
}

// New creates a dataset holding rows.
func New(rows ...Row) *Dataset {
	d := &Dataset{rows: make([]Row, 0, len(rows))}
	for _, r := range rows {
		d.Append(r)
	}
	return d
}

// Append adds a copy of row at the end and returns the dataset. Metadata
// values are stored as plain JSON types, with numbers as json.Number, so a row
// reads the same before and after a save.
func (d *Dataset) Append(row Row) *Dataset {
	metas := make([]Metadata, 0, len(row.Metadata))
	for _, m := range row.Metadata {
		metas = append(metas, canonicalMetadata(m))
	}
	d.rows = append(d.rows, Row{
		Content:  append([]string{}, row.Content...),
		Metadata: metas,
	})
	return d
}

// NumRows returns the number of rows.
func (d *Dataset) NumRows() int { return len(d.rows) }

// NumColumns returns the number of columns.
func (d *Dataset) NumColumns() int { return len(columnNames) }

// ColumnNames returns the column names in schema order.
func (d *Dataset) ColumnNames() []string { return append([]string{}, columnNames...) }

// Shape returns (rows, columns).
func (d *Dataset) Shape() (int, int) { return d.NumRows(), d.NumColumns() }

// Row returns the row at index i.
func (d *Dataset) Row(i int) (Row, error) {
	if i < 0 || i >= len(d.rows) {
		return Row{}, fmt.Errorf("row %d out of range [0, %d)", i, len(d.rows))
	}
	return d.rows[i], nil
}

// Summary describes the dataset's dimensions.
type Summary struct {
	NumRows     int      `json:"num_rows"`
	NumColumns  int      `json:"num_columns"`
	ColumnNames []string `json:"column_names"`
	Shape       [2]int   `json:"shape"`
}

// Summary returns the dataset's dimensions.
func (d *Dataset) Summary() Summary {
	rows, cols := d.Shape()
	return Summary{
		NumRows:     rows,
		NumColumns:  cols,
		ColumnNames: d.ColumnNames(),
		Shape:       [2]int{rows, cols},
	}
}

// Report writes a human-readable summary to w.
func (s Summary) Report(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"Dataset Info:\nNumber of rows: %d\nNumber of columns: %d\nColumn names: %v\nShape: (%d, %d)\n",
		s.NumRows, s.NumColumns, s.ColumnNames, s.Shape[0], s.Shape[1])
	return err
}

var columnNames = []string{ColumnContent, ColumnMetadata}
