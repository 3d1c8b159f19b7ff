package ingest

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/bartoncreek/pdf2dataset/internal/config"
	"github.com/bartoncreek/pdf2dataset/internal/dedupe"
	"github.com/bartoncreek/pdf2dataset/internal/events"
	"github.com/bartoncreek/pdf2dataset/internal/extract"
	"github.com/bartoncreek/pdf2dataset/internal/fetch"
	"github.com/bartoncreek/pdf2dataset/internal/processing"
)

// Build wires the production collaborators described by cfg. Stopword lists
// are loaded once here and shared by every Process call.
func Build(cfg *config.Pipeline, log *slog.Logger, out io.Writer) (*Pipeline, error) {
	stop, err := processing.LoadStopwords(cfg.StopwordLanguages...)
	if err != nil {
		return nil, fmt.Errorf("load stopwords: %w", err)
	}

	return New(Options{
		Fetcher:     fetch.NewDefault(cfg.FetchUserAgent, cfg.FetchMaxBytes),
		Extractor:   extract.New(cfg.TikaURL, nil),
		Normalizer:  processing.NewNormalizer(stop),
		Publisher:   events.New(cfg.KafkaBrokers, cfg.KafkaTopic),
		Provenance:  dedupe.NewCache(cfg.ProvenanceCapacity, provenanceTTL),
		DownloadDir: cfg.DownloadDir,
		Out:         out,
		Logger:      log,
	})
}

// Close releases the event publisher.
func (p *Pipeline) Close() error {
	return p.publisher.Close()
}
