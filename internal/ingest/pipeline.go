// Package ingest turns one document URL into one appended dataset row.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/bartoncreek/pdf2dataset/internal/dataset"
	"github.com/bartoncreek/pdf2dataset/internal/dedupe"
	"github.com/bartoncreek/pdf2dataset/internal/events"
	"github.com/bartoncreek/pdf2dataset/internal/extract"
	"github.com/bartoncreek/pdf2dataset/internal/fetch"
	"github.com/bartoncreek/pdf2dataset/internal/logger"
	"github.com/bartoncreek/pdf2dataset/internal/models"
	"github.com/bartoncreek/pdf2dataset/internal/processing"
)

const (
	defaultProvenanceCapacity = 1024
	// provenanceTTL outlives any realistic download cache.
	provenanceTTL = 100 * 365 * 24 * time.Hour
)

// Fetcher is the network side of the pipeline. *fetch.Fetcher implements it.
type Fetcher interface {
	Probe(ctx context.Context, rawURL string) error
	Download(ctx context.Context, rawURL, dir string) (*fetch.Result, error)
}

// Options configure a Pipeline. Fetcher, Extractor and Normalizer are required.
type Options struct {
	Fetcher    Fetcher
	Extractor  extract.Extractor
	Normalizer *processing.Normalizer

	// Publisher receives an event for every appended row. Defaults to events.Nop.
	Publisher events.Publisher
	// Provenance caches which URL produced each cached file for this process.
	// The durable record is the fetch.OriginSuffix sidecar next to the file.
	Provenance *dedupe.Cache
	// DownloadDir is the download cache. Defaults to the working directory.
	DownloadDir string
	// Out receives the dataset summary. Defaults to io.Discard.
	Out    io.Writer
	Logger *slog.Logger
	Now    func() time.Time
}

// Pipeline runs the fetch, extract, normalize, append and persist steps.
// It holds no locks: callers sharing a dataset directory must serialize.
type Pipeline struct {
	fetcher     Fetcher
	extractor   extract.Extractor
	normalizer  *processing.Normalizer
	publisher   events.Publisher
	provenance  *dedupe.Cache
	downloadDir string
	out         io.Writer
	log         *slog.Logger
	now         func() time.Time
}

// New validates opts and builds a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("ingest: fetcher is required")
	}
	if opts.Extractor == nil {
		return nil, errors.New("ingest: extractor is required")
	}
	if opts.Normalizer == nil {
		return nil, errors.New("ingest: normalizer is required")
	}

	p := &Pipeline{
		fetcher:     opts.Fetcher,
		extractor:   opts.Extractor,
		normalizer:  opts.Normalizer,
		publisher:   opts.Publisher,
		provenance:  opts.Provenance,
		downloadDir: opts.DownloadDir,
		out:         opts.Out,
		log:         logger.OrDiscard(opts.Logger),
		now:         opts.Now,
	}
	if p.publisher == nil {
		p.publisher = events.Nop{}
	}
	if p.provenance == nil {
		p.provenance = dedupe.NewCache(defaultProvenanceCapacity, provenanceTTL)
	}
	if p.downloadDir == "" {
		p.downloadDir = "."
	}
	if p.out == nil {
		p.out = io.Discard
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Process appends the document at rawURL as a new row of the dataset stored in
// datasetPath and returns the updated dataset.
//
// ErrInvalidURL and ErrDatasetDirectoryMissing are logged and returned with a
// nil dataset before anything is written. Other failures are returned wrapped;
// the dataset on disk is only replaced once the new row is fully built.
func (p *Pipeline) Process(ctx context.Context, rawURL, datasetPath string) (*dataset.Dataset, error) {
	log := p.log.With(slog.String("url", rawURL), slog.String("dataset", datasetPath))

	if err := p.fetcher.Probe(ctx, rawURL); err != nil {
		err = fmt.Errorf("%w %q: %v", ErrInvalidURL, rawURL, err)
		log.Error("probe url", slog.Any("err", err))
		return nil, err
	}

	if err := checkDir(datasetPath); err != nil {
		log.Error("check dataset directory", slog.Any("err", err))
		return nil, err
	}

	file, err := p.fetcher.Download(ctx, rawURL, p.downloadDir)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	p.trackProvenance(log, rawURL, file)
	log.Debug("document ready",
		slog.String("path", file.Path),
		slog.Bool("downloaded", file.Downloaded),
		slog.Int64("bytes", file.Bytes),
	)

	extracted, err := p.extractor.Extract(ctx, file.Path)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", file.Path, err)
	}

	tokens := p.normalizer.Normalize(extracted.Content)
	meta := dataset.Metadata(extracted.Metadata)
	if meta == nil {
		meta = dataset.Metadata{}
	}
	row := dataset.Row{Content: tokens, Metadata: []dataset.Metadata{meta}}

	d, err := p.appendRow(datasetPath, row)
	if err != nil {
		return nil, err
	}
	if err := dataset.Save(datasetPath, d); err != nil {
		if !errors.Is(err, dataset.ErrInfoNotSaved) {
			return nil, fmt.Errorf("save dataset: %w", err)
		}
		log.Warn("dataset saved without info sidecar", slog.Any("err", err))
	}

	summary := d.Summary()
	if err := summary.Report(p.out); err != nil {
		return nil, fmt.Errorf("report summary: %w", err)
	}
	log.Info("row appended",
		slog.Int("rows", summary.NumRows),
		slog.Int("tokens", len(tokens)),
	)

	if appended, err := d.Row(summary.NumRows - 1); err == nil {
		meta = appended.Metadata[0]
	}
	p.publish(ctx, log, models.RecordEvent{
		EventID:     uuid.NewString(),
		DatasetPath: datasetPath,
		Row:         summary.NumRows - 1,
		SourceURL:   rawURL,
		FileName:    file.FileName,
		Content:     tokens,
		Metadata:    meta,
		AppendedAt:  p.now().UTC(),
	})

	return d, nil
}

func (p *Pipeline) appendRow(datasetPath string, row dataset.Row) (*dataset.Dataset, error) {
	exists, err := dataset.Exists(datasetPath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return dataset.New(row), nil
	}

	d, err := dataset.Load(datasetPath)
	if err != nil {
		return nil, err
	}
	return d.Append(row), nil
}

// trackProvenance warns when a cached file is reused for a URL other than the
// one that downloaded it. The file is reused either way.
func (p *Pipeline) trackProvenance(log *slog.Logger, rawURL string, file *fetch.Result) {
	if file.Downloaded {
		p.provenance.Remember(file.Path, rawURL)
		if err := fetch.WriteOrigin(file.Path, rawURL); err != nil {
			log.Warn("record download origin", slog.Any("err", err))
		}
		return
	}

	origin, ok := p.provenance.Lookup(file.Path)
	if !ok {
		var err error
		if origin, err = fetch.ReadOrigin(file.Path); err != nil {
			log.Warn("read download origin", slog.Any("err", err))
			return
		}
		if origin == "" {
			return
		}
		p.provenance.Remember(file.Path, origin)
	}
	if origin != rawURL {
		log.Warn("reusing cached file downloaded from another url",
			slog.String("path", file.Path),
			slog.String("origin", origin),
		)
	}
}

func (p *Pipeline) publish(ctx context.Context, log *slog.Logger, ev models.RecordEvent) {
	if err := p.publisher.PublishRecord(ctx, ev); err != nil {
		log.Warn("publish record event", slog.Any("err", err), slog.Int("row", ev.Row))
	}
}

func checkDir(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrDatasetDirectoryMissing, path)
		}
		return fmt.Errorf("stat dataset directory: %w", err)
	}
	if !st.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrDatasetDirectoryMissing, path)
	}
	return nil
}
