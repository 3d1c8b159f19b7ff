package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bartoncreek/pdf2dataset/internal/config"
	"github.com/bartoncreek/pdf2dataset/internal/dedupe"
	"github.com/bartoncreek/pdf2dataset/internal/elasticsearch"
	"github.com/bartoncreek/pdf2dataset/internal/events"
	"github.com/bartoncreek/pdf2dataset/internal/logger"
	"github.com/bartoncreek/pdf2dataset/internal/models"
	"github.com/bartoncreek/pdf2dataset/internal/processing"
)

const titleWords = 10

type recordIndexer interface {
	IndexRecord(ctx context.Context, doc models.RecordDocument) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func main() {
	log := logger.New("worker")
	if err := config.LoadDotEnv(); err != nil {
		log.Error("load .env", slog.Any("err", err))
		os.Exit(1)
	}
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := elasticsearch.Connect(ctx, cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log, 10, 2*time.Second)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}
	if err := esClient.EnsureIndex(ctx); err != nil {
		log.Error("ensure index", slog.Any("err", err))
		os.Exit(1)
	}

	cache := dedupe.NewCache(cfg.DedupeCapacity, cfg.DedupeTTL)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: cfg.CommitInterval,
	})
	defer reader.Close()

	dlqTopic := cfg.KafkaTopic + "_dlq"
	dlqWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       dlqTopic,
		MaxAttempts: 3,
	})
	defer dlqWriter.Close()

	dlq := &deadLetters{w: dlqWriter, log: log, attempts: 5, backoff: time.Second}

	log.Info("worker started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", dlqTopic),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := processMessage(ctx, log, esClient, cache, cfg, msg); err != nil {
			log.Warn("process message failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)
			if !dlq.send(ctx, msg, err) {
				if ctx.Err() != nil {
					return
				}
				// Skip the commit so the message is redelivered after a restart.
				continue
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

// processMessage mirrors one appended row into the search index. Redelivered
// rows are skipped while they are remembered by cache.
func processMessage(ctx context.Context, log *slog.Logger, idx recordIndexer, cache *dedupe.Cache, cfg *config.Worker, msg kafka.Message) error {
	ev, err := events.DecodeRecord(msg.Value)
	if err != nil {
		return err
	}
	if strings.TrimSpace(ev.DatasetPath) == "" || strings.TrimSpace(ev.SourceURL) == "" {
		return errors.New("event is missing dataset path or source url")
	}
	if ev.Row < 0 {
		return fmt.Errorf("event has negative row %d", ev.Row)
	}

	doc := buildDocument(ev, cfg, time.Now)

	if cache.IsSeen(doc.ID) {
		log.Debug("duplicate row", slog.String("id", doc.ID))
		return nil
	}

	if err := idx.IndexRecord(ctx, doc); err != nil {
		return err
	}

	cache.MarkSeen(doc.ID)
	log.Info("indexed row",
		slog.String("id", doc.ID),
		slog.String("dataset", doc.DatasetPath),
		slog.Int("row", doc.Row),
	)
	return nil
}

func buildDocument(ev models.RecordEvent, cfg *config.Worker, now func() time.Time) models.RecordDocument {
	title := processing.MetadataTitle(ev.Metadata)
	if title == "" {
		title = processing.GenerateTitle(ev.Content, titleWords)
	}

	ts := ev.AppendedAt
	if ts.IsZero() {
		ts = now().UTC()
	}

	return models.RecordDocument{
		ID:          processing.BuildDocumentID(ev.DatasetPath, ev.Row, ev.SourceURL),
		DatasetPath: ev.DatasetPath,
		Row:         ev.Row,
		SourceURL:   ev.SourceURL,
		Title:       title,
		Text:        strings.Join(ev.Content, " "),
		Keywords:    processing.ExtractKeywords(ev.Content, cfg.KeywordLimit, cfg.KeywordMinLength),
		TokenCount:  len(ev.Content),
		Metadata:    ev.Metadata,
		Timestamp:   ts,
	}
}

// deadLetters forwards failed messages to the DLQ topic with error context.
type deadLetters struct {
	w        messageWriter
	log      *slog.Logger
	attempts int
	backoff  time.Duration
}

// send reports whether the message reached the DLQ. Writes are retried with
// exponential backoff.
func (d *deadLetters) send(ctx context.Context, msg kafka.Message, cause error) bool {
	headers := make([]kafka.Header, 0, len(msg.Headers)+4)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
		kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
		kafka.Header{Key: "error", Value: []byte(cause.Error())},
		kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
	)
	dlqMsg := kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}

	for attempt := 0; attempt < d.attempts; attempt++ {
		err := d.w.WriteMessages(ctx, dlqMsg)
		if err == nil {
			d.log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return true
		}

		backoff := d.backoff * time.Duration(1<<uint(attempt))
		d.log.Warn("DLQ write failed, retrying",
			slog.Any("err", err),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			d.log.Info("context canceled during DLQ retry")
			return false
		}
	}

	d.log.Error("DLQ write exhausted retries, message left uncommitted",
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
	)
	return false
}
