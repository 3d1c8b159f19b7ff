package ingest_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bartoncreek/pdf2dataset/internal/config"
	"github.com/bartoncreek/pdf2dataset/internal/dataset"
	"github.com/bartoncreek/pdf2dataset/internal/extract"
	"github.com/bartoncreek/pdf2dataset/internal/extract/extracttest"
	"github.com/bartoncreek/pdf2dataset/internal/fetch"
	"github.com/bartoncreek/pdf2dataset/internal/ingest"
	"github.com/bartoncreek/pdf2dataset/internal/models"
	"github.com/bartoncreek/pdf2dataset/internal/processing"
)

// fileExtractor returns the raw file contents as the document text.
type fileExtractor struct {
	calls int
	err   error
}

func (e *fileExtractor) Extract(_ context.Context, path string) (*extract.Result, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &extract.Result{
		Content:  string(data),
		Metadata: map[string]any{"resourceName": filepath.Base(path)},
	}, nil
}

type recordingPublisher struct {
	events []models.RecordEvent
	err    error
}

func (p *recordingPublisher) PublishRecord(_ context.Context, ev models.RecordEvent) error {
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type fixture struct {
	srv         *httptest.Server
	hits        *atomic.Int32
	downloadDir string
	datasetDir  string
	extractor   *fileExtractor
	publisher   *recordingPublisher
	out         *bytes.Buffer
	logs        *bytes.Buffer
	pipeline    *ingest.Pipeline
}

func newFixture(t *testing.T, docs map[string][]byte) *fixture {
	t.Helper()

	f := &fixture{
		hits:        &atomic.Int32{},
		downloadDir: t.TempDir(),
		datasetDir:  t.TempDir(),
		extractor:   &fileExtractor{},
		publisher:   &recordingPublisher{},
		out:         &bytes.Buffer{},
		logs:        &bytes.Buffer{},
	}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		body, ok := docs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(f.srv.Close)

	stop, err := processing.LoadStopwords("english")
	require.NoError(t, err)

	f.pipeline, err = ingest.New(ingest.Options{
		Fetcher:     fetch.New(f.srv.Client(), "test-agent", 1<<20),
		Extractor:   f.extractor,
		Normalizer:  processing.NewNormalizer(stop),
		Publisher:   f.publisher,
		DownloadDir: f.downloadDir,
		Out:         f.out,
		Logger:      slog.New(slog.NewTextHandler(f.logs, nil)),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) url(path string) string {
	return f.srv.URL + path
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := ingest.New(ingest.Options{})
	require.Error(t, err)

	_, err = ingest.New(ingest.Options{Fetcher: fetch.New(nil, "", 1)})
	require.Error(t, err)

	_, err = ingest.New(ingest.Options{Fetcher: fetch.New(nil, "", 1), Extractor: extract.NewPDF()})
	require.Error(t, err)
}

func TestProcessHelloWorld(t *testing.T) {
	f := newFixture(t, map[string][]byte{
		"/docs/sample.pdf": []byte("Hello, World! This is a TEST."),
	})

	d, err := f.pipeline.Process(context.Background(), f.url("/docs/sample.pdf"), f.datasetDir)
	require.NoError(t, err)
	require.Equal(t, 1, d.NumRows())

	row, err := d.Row(0)
	require.NoError(t, err)
	require.Equal(t, []string{"hello", "world", "test"}, row.Content)
	require.Equal(t, []dataset.Metadata{{"resourceName": "sample.pdf"}}, row.Metadata)

	require.Equal(t,
		"Dataset Info:\nNumber of rows: 1\nNumber of columns: 2\nColumn names: [content metadata]\nShape: (1, 2)\n",
		f.out.String())

	require.FileExists(t, filepath.Join(f.downloadDir, "sample.pdf"))
	exists, err := dataset.Exists(f.datasetDir)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestProcessInvalidURLWritesNothing(t *testing.T) {
	f := newFixture(t, nil)

	d, err := f.pipeline.Process(context.Background(), f.url("/missing.pdf"), f.datasetDir)
	require.Nil(t, d)
	require.ErrorIs(t, err, ingest.ErrInvalidURL)
	require.ErrorContains(t, err, "404")

	require.Empty(t, listDir(t, f.downloadDir))
	require.Empty(t, listDir(t, f.datasetDir))
	require.Zero(t, f.extractor.calls)
	require.Empty(t, f.publisher.events)
	require.Contains(t, f.logs.String(), "probe url")
}

func TestProcessUnreachableHost(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.Close()

	d, err := f.pipeline.Process(context.Background(), f.url("/docs/sample.pdf"), f.datasetDir)
	require.Nil(t, d)
	require.ErrorIs(t, err, ingest.ErrInvalidURL)
	require.Empty(t, listDir(t, f.datasetDir))
}

func TestProcessMalformedURL(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.pipeline.Process(context.Background(), "not a url", f.datasetDir)
	require.ErrorIs(t, err, ingest.ErrInvalidURL)
}

func TestProcessMissingDatasetDirDownloadsNothing(t *testing.T) {
	f := newFixture(t, map[string][]byte{"/docs/sample.pdf": []byte("text")})
	missing := filepath.Join(f.datasetDir, "nope")

	d, err := f.pipeline.Process(context.Background(), f.url("/docs/sample.pdf"), missing)
	require.Nil(t, d)
	require.ErrorIs(t, err, ingest.ErrDatasetDirectoryMissing)

	// Only the probe reached the server.
	require.EqualValues(t, 1, f.hits.Load())
	require.Empty(t, listDir(t, f.downloadDir))
	require.NoDirExists(t, missing)
}

func TestProcessDatasetPathIsFile(t *testing.T) {
	f := newFixture(t, map[string][]byte{"/docs/sample.pdf": []byte("text")})
	path := filepath.Join(f.datasetDir, "file")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := f.pipeline.Process(context.Background(), f.url("/docs/sample.pdf"), path)
	require.ErrorIs(t, err, ingest.ErrDatasetDirectoryMissing)
}

func TestProcessAppendsRows(t *testing.T) {
	f := newFixture(t, map[string][]byte{
		"/a/first.pdf":  []byte("Alpha beta"),
		"/b/second.pdf": []byte("Gamma, delta!"),
	})
	ctx := context.Background()

	_, err := f.pipeline.Process(ctx, f.url("/a/first.pdf"), f.datasetDir)
	require.NoError(t, err)

	d, err := f.pipeline.Process(ctx, f.url("/b/second.pdf"), f.datasetDir)
	require.NoError(t, err)
	require.Equal(t, 2, d.NumRows())

	loaded, err := dataset.Load(f.datasetDir)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.NumRows())

	first, err := loaded.Row(0)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta"}, first.Content)

	second, err := loaded.Row(1)
	require.NoError(t, err)
	require.Equal(t, []string{"gamma", "delta"}, second.Content)

	require.Len(t, f.publisher.events, 2)
	require.Equal(t, 0, f.publisher.events[0].Row)
	require.Equal(t, 1, f.publisher.events[1].Row)
	require.Equal(t, f.url("/b/second.pdf"), f.publisher.events[1].SourceURL)
	require.Equal(t, "second.pdf", f.publisher.events[1].FileName)
	require.Equal(t, f.datasetDir, f.publisher.events[1].DatasetPath)
	require.NotEmpty(t, f.publisher.events[1].EventID)
}

func TestProcessReusesCachedFileForSameName(t *testing.T) {
	f := newFixture(t, map[string][]byte{
		"/v1/report.pdf": []byte("first edition"),
		"/v2/report.pdf": []byte("second edition"),
	})
	ctx := context.Background()

	_, err := f.pipeline.Process(ctx, f.url("/v1/report.pdf"), f.datasetDir)
	require.NoError(t, err)

	d, err := f.pipeline.Process(ctx, f.url("/v2/report.pdf"), f.datasetDir)
	require.NoError(t, err)

	row, err := d.Row(1)
	require.NoError(t, err)
	require.Equal(t, []string{"first", "edition"}, row.Content)
	require.Contains(t, f.logs.String(), "reusing cached file downloaded from another url")

	// probe, download, probe
	require.EqualValues(t, 3, f.hits.Load())
}

func TestProcessWarnsAboutForeignCacheAcrossRuns(t *testing.T) {
	f := newFixture(t, map[string][]byte{
		"/v1/report.pdf": []byte("first edition"),
		"/v2/report.pdf": []byte("second edition"),
	})
	ctx := context.Background()

	_, err := f.pipeline.Process(ctx, f.url("/v1/report.pdf"), f.datasetDir)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(f.downloadDir, "report.pdf"+fetch.OriginSuffix))

	// A fresh pipeline has an empty in-memory cache, like a second CLI run.
	var logs bytes.Buffer
	next, err := ingest.New(ingest.Options{
		Fetcher:     fetch.New(f.srv.Client(), "test-agent", 1<<20),
		Extractor:   f.extractor,
		Normalizer:  processing.NewNormalizer(nil),
		DownloadDir: f.downloadDir,
		Logger:      slog.New(slog.NewTextHandler(&logs, nil)),
	})
	require.NoError(t, err)

	_, err = next.Process(ctx, f.url("/v1/report.pdf"), f.datasetDir)
	require.NoError(t, err)
	require.NotContains(t, logs.String(), "reusing cached file downloaded from another url")

	d, err := next.Process(ctx, f.url("/v2/report.pdf"), f.datasetDir)
	require.NoError(t, err)
	require.Equal(t, 3, d.NumRows())
	require.Contains(t, logs.String(), "reusing cached file downloaded from another url")
	require.Contains(t, logs.String(), "origin="+f.url("/v1/report.pdf"))
}

func TestProcessExtractionFailureKeepsDataset(t *testing.T) {
	f := newFixture(t, map[string][]byte{"/docs/sample.pdf": []byte("one two")})
	ctx := context.Background()

	_, err := f.pipeline.Process(ctx, f.url("/docs/sample.pdf"), f.datasetDir)
	require.NoError(t, err)

	f.extractor.err = errors.New("parser exploded")
	d, err := f.pipeline.Process(ctx, f.url("/docs/sample.pdf"), f.datasetDir)
	require.Nil(t, d)
	require.ErrorContains(t, err, "parser exploded")
	require.NotErrorIs(t, err, ingest.ErrInvalidURL)

	loaded, err := dataset.Load(f.datasetDir)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.NumRows())
}

func TestProcessInfoSidecarFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, map[string][]byte{"/docs/sample.pdf": []byte("one two")})
	require.NoError(t, os.Mkdir(filepath.Join(f.datasetDir, dataset.InfoFile), 0o755))

	d, err := f.pipeline.Process(context.Background(), f.url("/docs/sample.pdf"), f.datasetDir)
	require.NoError(t, err)
	require.Equal(t, 1, d.NumRows())
	require.Contains(t, f.logs.String(), "dataset saved without info sidecar")
	require.Len(t, f.publisher.events, 1)

	loaded, err := dataset.Load(f.datasetDir)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.NumRows())
}

func TestProcessPublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, map[string][]byte{"/docs/sample.pdf": []byte("one two")})
	f.publisher.err = errors.New("broker down")

	d, err := f.pipeline.Process(context.Background(), f.url("/docs/sample.pdf"), f.datasetDir)
	require.NoError(t, err)
	require.Equal(t, 1, d.NumRows())
	require.Contains(t, f.logs.String(), "broker down")
}

func TestProcessEmptyDocument(t *testing.T) {
	f := newFixture(t, map[string][]byte{"/docs/empty.pdf": {}})

	d, err := f.pipeline.Process(context.Background(), f.url("/docs/empty.pdf"), f.datasetDir)
	require.NoError(t, err)

	row, err := d.Row(0)
	require.NoError(t, err)
	require.Empty(t, row.Content)
}

func TestProcessStoredTokensAreNormalized(t *testing.T) {
	f := newFixture(t, map[string][]byte{"/docs/sample.pdf": []byte("The QUICK brown fox, isn't it? Jumps; over the lazy dog.")})

	d, err := f.pipeline.Process(context.Background(), f.url("/docs/sample.pdf"), f.datasetDir)
	require.NoError(t, err)

	row, err := d.Row(0)
	require.NoError(t, err)

	stop, err := processing.LoadStopwords("english")
	require.NoError(t, err)
	n := processing.NewNormalizer(stop)
	for _, token := range row.Content {
		require.Equal(t, []string{token}, n.Normalize(token))
	}
}

func TestProcessRealPDF(t *testing.T) {
	f := newFixture(t, map[string][]byte{
		"/docs/sample.pdf": extracttest.OnePagePDF("Hello, World! This is a TEST.", "Sample Title"),
	})

	stop, err := processing.LoadStopwords("english")
	require.NoError(t, err)
	p, err := ingest.New(ingest.Options{
		Fetcher:     fetch.New(f.srv.Client(), "", 1<<20),
		Extractor:   extract.NewPDF(),
		Normalizer:  processing.NewNormalizer(stop),
		DownloadDir: f.downloadDir,
	})
	require.NoError(t, err)

	d, err := p.Process(context.Background(), f.url("/docs/sample.pdf"), f.datasetDir)
	require.NoError(t, err)

	row, err := d.Row(0)
	require.NoError(t, err)
	require.Contains(t, row.Content, "hello")
	require.Contains(t, row.Content, "test")
	require.NotContains(t, row.Content, "this")
	require.Equal(t, "Sample Title", row.Metadata[0]["pdf:docinfo:title"])
}

func TestBuildFromConfig(t *testing.T) {
	p, err := ingest.Build(&config.Pipeline{
		DownloadDir:        t.TempDir(),
		FetchMaxBytes:      1 << 20,
		StopwordLanguages:  []string{"english"},
		ProvenanceCapacity: 10,
	}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = ingest.Build(&config.Pipeline{StopwordLanguages: []string{"klingon"}, ProvenanceCapacity: 1}, nil, nil)
	require.ErrorContains(t, err, "klingon")
}
