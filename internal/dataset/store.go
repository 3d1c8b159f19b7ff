package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/google/uuid"
)

const (
	// MarkerFile holds the Arrow IPC table; its presence means a dataset exists.
	MarkerFile = "dataset.arrow"
	// InfoFile is the JSON sidecar describing the last save.
	InfoFile = "dataset_info.json"

	tempFilePrefix = "dataset-tmp-"
)

var (
	// ErrNotFound is returned by Load when the directory has no marker file.
	ErrNotFound = errors.New("dataset not found")
	// ErrInfoNotSaved is returned by Save when the table was replaced but the
	// info sidecar could not be; the sidecar then describes an earlier save.
	ErrInfoNotSaved = errors.New("dataset info not saved")
)

var schema = arrow.NewSchema([]arrow.Field{
	{Name: ColumnContent, Type: arrow.ListOf(arrow.BinaryTypes.String)},
	{Name: ColumnMetadata, Type: arrow.ListOf(arrow.BinaryTypes.String)},
}, nil)

// Info is the sidecar written next to the table on every save.
type Info struct {
	Fingerprint string    `json:"fingerprint"`
	ColumnNames []string  `json:"column_names"`
	NumRows     int       `json:"num_rows"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Exists reports whether dir contains a dataset marker file.
func Exists(dir string) (bool, error) {
	st, err := os.Stat(filepath.Join(dir, MarkerFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat marker: %w", err)
	}
	return st.Mode().IsRegular(), nil
}

// Load reads the dataset persisted in dir.
func Load(dir string) (*Dataset, error) {
	f, err := os.Open(filepath.Join(dir, MarkerFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	d, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", dir, err)
	}
	return d, nil
}

// Save writes d to dir, replacing any previous state. Each file is written to a
// temporary name and renamed into place, so a failed write leaves the old file.
// The table is written first: any error other than ErrInfoNotSaved means the
// dataset on disk is unchanged.
func Save(dir string, d *Dataset) error {
	if err := writeAtomic(filepath.Join(dir, MarkerFile), func(w io.WriteSeeker) error {
		return encode(w, d)
	}); err != nil {
		return fmt.Errorf("write table: %w", err)
	}

	info := Info{
		Fingerprint: uuid.NewString(),
		ColumnNames: d.ColumnNames(),
		NumRows:     d.NumRows(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := writeAtomic(filepath.Join(dir, InfoFile), func(w io.WriteSeeker) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrInfoNotSaved, err)
	}

	return nil
}

// ReadInfo returns the sidecar from the last save in dir.
func ReadInfo(dir string) (*Info, error) {
	data, err := os.ReadFile(filepath.Join(dir, InfoFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, fmt.Errorf("read info: %w", err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode info: %w", err)
	}
	return &info, nil
}

func encode(w io.WriteSeeker, d *Dataset) error {
	mem := memory.NewGoAllocator()

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	content := b.Field(0).(*array.ListBuilder)
	contentValues := content.ValueBuilder().(*array.StringBuilder)
	meta := b.Field(1).(*array.ListBuilder)
	metaValues := meta.ValueBuilder().(*array.StringBuilder)

	for i, row := range d.rows {
		content.Append(true)
		contentValues.AppendValues(row.Content, nil)

		meta.Append(true)
		for _, m := range row.Metadata {
			raw, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("marshal metadata of row %d: %w", i, err)
			}
			metaValues.Append(string(raw))
		}
	}

	rec := b.NewRecord()
	defer rec.Release()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("create arrow writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("write record: %w", err)
	}
	return fw.Close()
}

func decode(r ipc.ReadAtSeeker) (*Dataset, error) {
	mem := memory.NewGoAllocator()

	fr, err := ipc.NewFileReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("open arrow reader: %w", err)
	}
	defer fr.Close()

	got := fr.Schema()
	if got.NumFields() != len(columnNames) {
		return nil, fmt.Errorf("unexpected column count %d", got.NumFields())
	}
	for i, name := range columnNames {
		if got.Field(i).Name != name {
			return nil, fmt.Errorf("unexpected column %q at position %d", got.Field(i).Name, i)
		}
	}

	d := New()
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			return nil, fmt.Errorf("read record %d: %w", i, err)
		}
		if err := appendRecord(d, rec); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// appendRecord copies every row of rec into d. rec is owned by the reader and
// must not be used after the next read.
func appendRecord(d *Dataset, rec arrow.Record) error {
	content, ok := rec.Column(0).(*array.List)
	if !ok {
		return fmt.Errorf("column %s has type %s", ColumnContent, rec.Column(0).DataType())
	}
	meta, ok := rec.Column(1).(*array.List)
	if !ok {
		return fmt.Errorf("column %s has type %s", ColumnMetadata, rec.Column(1).DataType())
	}
	contentValues, ok := content.ListValues().(*array.String)
	if !ok {
		return fmt.Errorf("column %s has non-string values", ColumnContent)
	}
	metaValues, ok := meta.ListValues().(*array.String)
	if !ok {
		return fmt.Errorf("column %s has non-string values", ColumnMetadata)
	}

	for row := 0; row < int(rec.NumRows()); row++ {
		start, end := content.ValueOffsets(row)
		tokens := make([]string, 0, end-start)
		for j := start; j < end; j++ {
			tokens = append(tokens, contentValues.Value(int(j)))
		}

		start, end = meta.ValueOffsets(row)
		metas := make([]Metadata, 0, end-start)
		for j := start; j < end; j++ {
			m, err := decodeMetadata([]byte(metaValues.Value(int(j))))
			if err != nil {
				return fmt.Errorf("decode metadata of row %d: %w", d.NumRows(), err)
			}
			metas = append(metas, m)
		}

		d.rows = append(d.rows, Row{Content: tokens, Metadata: metas})
	}
	return nil
}

// decodeMetadata keeps numbers as json.Number so integers survive reloads.
func decodeMetadata(raw []byte) (Metadata, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m Metadata
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// canonicalMetadata returns m with the value types Load produces for it.
// Values that cannot be encoded are kept so that Save reports them.
func canonicalMetadata(m Metadata) Metadata {
	if m == nil {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return m
	}
	out, err := decodeMetadata(raw)
	if err != nil {
		return m
	}
	return out
}

// writeAtomic streams into a temp file in the target directory and renames it
// over filename once fully synced.
func writeAtomic(filename string, write func(io.WriteSeeker) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(filename), tempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", filename, err)
	}
	return nil
}
