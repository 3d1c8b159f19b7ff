package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bartoncreek/pdf2dataset/internal/config"
	"github.com/bartoncreek/pdf2dataset/internal/elasticsearch"
	"github.com/bartoncreek/pdf2dataset/internal/fetch"
	"github.com/bartoncreek/pdf2dataset/internal/logger"
)

const cachedExt = ".pdf"

type olderThanDeleter interface {
	DeleteOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

func main() {
	log := logger.New("retention")
	if err := config.LoadDotEnv(); err != nil {
		log.Error("load .env", slog.Any("err", err))
		os.Exit(1)
	}
	cfg, err := config.LoadRetention()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := elasticsearch.Connect(ctx, cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log, 10, 2*time.Second)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown signal received during startup")
			return
		}
		log.Error("failed to connect to elasticsearch after retries", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("connected to elasticsearch")

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info("retention job running",
		slog.Duration("interval", cfg.Interval),
		slog.Duration("max_age", cfg.MaxAge),
		slog.String("download_dir", cfg.DownloadDir),
	)

	runOnce(ctx, log, esClient, cfg, time.Now())

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case now := <-ticker.C:
			runOnce(ctx, log, esClient, cfg, now)
		}
	}
}

// runOnce prunes the download cache and the search mirror. Dataset files are
// never touched. Failures are logged and retried on the next tick.
func runOnce(ctx context.Context, log *slog.Logger, es olderThanDeleter, cfg *config.Retention, now time.Time) {
	removed, err := fetch.Prune(cfg.DownloadDir, cachedExt, cfg.MaxAge, now)
	if err != nil {
		log.Warn("download cache prune failed", slog.Any("err", err))
	} else if removed > 0 {
		log.Info("download cache pruned", slog.Int("removed", removed))
	}

	subCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	deleted, err := es.DeleteOlderThan(subCtx, cfg.MaxAge, cfg.BatchSize)
	if err != nil {
		log.Warn("retention run failed (will retry on next interval)", slog.Any("err", err))
		return
	}

	if deleted > 0 {
		log.Info("retention run completed", slog.Int64("deleted", deleted))
	} else {
		log.Debug("retention run completed, no old documents found")
	}
}
