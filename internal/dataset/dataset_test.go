package dataset_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bartoncreek/pdf2dataset/internal/dataset"
)

func TestDatasetShape(t *testing.T) {
	d := dataset.New()
	rows, cols := d.Shape()
	require.Equal(t, 0, rows)
	require.Equal(t, 2, cols)
	require.Equal(t, []string{"content", "metadata"}, d.ColumnNames())

	d.Append(dataset.Row{Content: []string{"hello"}, Metadata: []dataset.Metadata{{"k": "v"}}})
	require.Equal(t, 1, d.NumRows())

	_, err := d.Row(1)
	require.Error(t, err)
}

func TestAppendCopiesRow(t *testing.T) {
	tokens := []string{"alpha", "beta"}
	d := dataset.New(dataset.Row{Content: tokens})
	tokens[0] = "mutated"

	row, err := d.Row(0)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta"}, row.Content)
}

func TestMetadataTypesSurviveReload(t *testing.T) {
	dir := t.TempDir()
	d := dataset.New(dataset.Row{
		Content: []string{"x"},
		Metadata: []dataset.Metadata{{
			"pages":    int64(12),
			"version":  1.7,
			"keywords": []string{"a", "b"},
			"title":    "Report",
		}},
	})

	fresh, err := d.Row(0)
	require.NoError(t, err)
	require.Equal(t, json.Number("12"), fresh.Metadata[0]["pages"])
	require.Equal(t, json.Number("1.7"), fresh.Metadata[0]["version"])
	require.Equal(t, []any{"a", "b"}, fresh.Metadata[0]["keywords"])

	require.NoError(t, dataset.Save(dir, d))
	loaded, err := dataset.Load(dir)
	require.NoError(t, err)

	reloaded, err := loaded.Row(0)
	require.NoError(t, err)
	require.Equal(t, fresh, reloaded)
}

func TestSaveKeepsTableWhenInfoFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, dataset.InfoFile), 0o755))

	err := dataset.Save(dir, dataset.New(dataset.Row{Content: []string{"kept"}}))
	require.ErrorIs(t, err, dataset.ErrInfoNotSaved)

	loaded, err := dataset.Load(dir)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.NumRows())
}

func TestSummaryReport(t *testing.T) {
	d := dataset.New(dataset.Row{Content: []string{"a"}}, dataset.Row{Content: []string{"b"}})

	var buf bytes.Buffer
	require.NoError(t, d.Summary().Report(&buf))
	require.Equal(t,
		"Dataset Info:\nNumber of rows: 2\nNumber of columns: 2\nColumn names: [content metadata]\nShape: (2, 2)\n",
		buf.String())
}

func TestExistsOnEmptyDir(t *testing.T) {
	dir := t.TempDir()

	ok, err := dataset.Exists(dir)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = dataset.Load(dir)
	require.True(t, errors.Is(err, dataset.ErrNotFound))
}

func TestExistsIgnoresMarkerDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, dataset.MarkerFile), 0o755))

	ok, err := dataset.Exists(dir)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSaveLoadAppend(t *testing.T) {
	dir := t.TempDir()

	first := dataset.New(dataset.Row{
		Content:  []string{"hello", "world", "hello"},
		Metadata: []dataset.Metadata{{"Content-Type": "application/pdf", "xmpTPg:NPages": "1"}},
	})
	require.NoError(t, dataset.Save(dir, first))

	ok, err := dataset.Exists(dir)
	require.NoError(t, err)
	require.True(t, ok)

	loaded, err := dataset.Load(dir)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.NumRows())

	row, err := loaded.Row(0)
	require.NoError(t, err)
	require.Equal(t, []string{"hello", "world", "hello"}, row.Content)
	require.Len(t, row.Metadata, 1)
	require.Equal(t, "application/pdf", row.Metadata[0]["Content-Type"])

	loaded.Append(dataset.Row{
		Content:  []string{},
		Metadata: []dataset.Metadata{{"pages": []any{"a", "b"}}},
	})
	require.NoError(t, dataset.Save(dir, loaded))

	again, err := dataset.Load(dir)
	require.NoError(t, err)
	require.Equal(t, 2, again.NumRows())

	row, err = again.Row(1)
	require.NoError(t, err)
	require.Empty(t, row.Content)
	require.Equal(t, []any{"a", "b"}, row.Metadata[0]["pages"])

	info, err := dataset.ReadInfo(dir)
	require.NoError(t, err)
	require.Equal(t, 2, info.NumRows)
	require.Equal(t, []string{"content", "metadata"}, info.ColumnNames)
	require.NotEmpty(t, info.Fingerprint)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2, "temporary files must not be left behind")
}

func TestLoadRejectsCorruptTable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, dataset.MarkerFile), []byte("not arrow"), 0o644))

	_, err := dataset.Load(dir)
	require.Error(t, err)
	require.False(t, errors.Is(err, dataset.ErrNotFound))
}

func TestSaveIntoMissingDirFails(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	require.Error(t, dataset.Save(dir, dataset.New()))

	_, err := os.Stat(dir)
	require.True(t, os.IsNotExist(err))
}
