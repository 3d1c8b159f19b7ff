package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Common contains Elasticsearch parameters shared by the mirror services.
type Common struct {
	ElasticsearchAddr  string
	ElasticsearchIndex string
}

// Pipeline configures the ingestion procedure used by the CLI and the API.
type Pipeline struct {
	DownloadDir        string
	TikaURL            string
	FetchMaxBytes      int64
	FetchUserAgent     string
	StopwordLanguages  []string
	KafkaBrokers       []string
	KafkaTopic         string
	ProvenanceCapacity int
}

// Ingest holds configuration for the one-shot ingest CLI.
type Ingest struct {
	Pipeline
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	Pipeline
	BindAddr    string
	DatasetRoot string
	DefaultPage int
	MaxPage     int
}

// Worker holds configuration for the Kafka -> Elasticsearch mirror worker.
type Worker struct {
	Common
	KafkaBrokers     []string
	KafkaTopic       string
	KafkaConsumer    string
	KeywordLimit     int
	KeywordMinLength int
	DedupeCapacity   int
	DedupeTTL        time.Duration
	BatchSize        int
	// CommitInterval of zero commits every message synchronously.
	CommitInterval time.Duration
}

// Retention configures the cleanup loop.
type Retention struct {
	Common
	DownloadDir string
	Interval    time.Duration
	MaxAge      time.Duration
	BatchSize   int
}

// LoadDotEnv loads variables from the given .env files (or ./.env) without
// overriding ones already set. A missing default file is not an error.
func LoadDotEnv(paths ...string) error {
	err := godotenv.Load(paths...)
	if err != nil && len(paths) == 0 && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// LoadIngest builds an Ingest config from environment variables.
func LoadIngest() (*Ingest, error) {
	p, err := loadPipeline("")
	if err != nil {
		return nil, err
	}
	return &Ingest{Pipeline: *p}, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	p, err := loadPipeline("")
	if err != nil {
		return nil, err
	}

	c := &API{
		Common:      loadCommon(),
		Pipeline:    *p,
		BindAddr:    getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		DatasetRoot: getEnv("API_DATASET_ROOT", "./datasets"),
		DefaultPage: getInt("API_PAGE_SIZE", 20),
		MaxPage:     getInt("API_MAX_PAGE_SIZE", 100),
	}

	if c.DefaultPage <= 0 {
		return nil, fmt.Errorf("API_PAGE_SIZE must be positive")
	}
	if c.MaxPage <= 0 {
		return nil, fmt.Errorf("API_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultPage > c.MaxPage {
		return nil, fmt.Errorf("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}

	return c, nil
}

// LoadWorker builds a Worker config from environment variables.
func LoadWorker() (*Worker, error) {
	c := &Worker{
		Common:           loadCommon(),
		KafkaBrokers:     splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "dataset_rows"),
		KafkaConsumer:    getEnv("KAFKA_CONSUMER_GROUP", "dataset-indexer"),
		KeywordLimit:     getInt("WORKER_KEYWORD_LIMIT", 8),
		KeywordMinLength: getInt("WORKER_KEYWORD_MIN_LEN", 4),
		DedupeCapacity:   getInt("WORKER_DEDUPE_CAPACITY", 20000),
		DedupeTTL:        getDuration("WORKER_DEDUPE_TTL", "24h"),
		BatchSize:        getInt("WORKER_BATCH_SIZE", 10),
		CommitInterval:   getDuration("WORKER_COMMIT_INTERVAL", "0s"),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("WORKER_BATCH_SIZE must be positive")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("WORKER_DEDUPE_CAPACITY must be positive")
	}
	if c.KeywordLimit <= 0 {
		return nil, fmt.Errorf("WORKER_KEYWORD_LIMIT must be positive")
	}
	if c.KeywordMinLength < 0 {
		return nil, fmt.Errorf("WORKER_KEYWORD_MIN_LEN cannot be negative")
	}

	return c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	c := &Retention{
		Common:      loadCommon(),
		DownloadDir: getEnv("DOWNLOAD_DIR", "."),
		Interval:    getDuration("RETENTION_CRON", "24h"),
		MaxAge:      getDuration("RETENTION_MAX_AGE", "168h"),
		BatchSize:   getInt("RETENTION_BATCH_SIZE", 500),
	}

	if c.MaxAge <= 0 {
		return nil, fmt.Errorf("RETENTION_MAX_AGE must be positive")
	}
	if c.Interval <= 0 {
		return nil, fmt.Errorf("RETENTION_CRON must be positive")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("RETENTION_BATCH_SIZE must be positive")
	}

	return c, nil
}

func loadCommon() Common {
	return Common{
		ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "dataset_rows"),
	}
}

// loadPipeline reads the pipeline settings. Kafka publishing stays disabled
// unless KAFKA_BROKERS is set.
func loadPipeline(defaultBrokers string) (*Pipeline, error) {
	p := &Pipeline{
		DownloadDir:        getEnv("DOWNLOAD_DIR", "."),
		TikaURL:            getEnv("TIKA_URL", ""),
		FetchMaxBytes:      getInt64("FETCH_MAX_BYTES", 100<<20),
		FetchUserAgent:     getEnv("FETCH_USER_AGENT", "pdf2dataset/1.0"),
		StopwordLanguages:  splitAndTrim(getEnv("STOPWORD_LANGUAGES", "all")),
		KafkaBrokers:       splitAndTrim(getEnv("KAFKA_BROKERS", defaultBrokers)),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "dataset_rows"),
		ProvenanceCapacity: getInt("PROVENANCE_CAPACITY", 1024),
	}

	if p.FetchMaxBytes <= 0 {
		return nil, fmt.Errorf("FETCH_MAX_BYTES must be positive")
	}
	if len(p.StopwordLanguages) == 0 {
		return nil, fmt.Errorf("STOPWORD_LANGUAGES must name at least one language")
	}
	if p.ProvenanceCapacity <= 0 {
		return nil, fmt.Errorf("PROVENANCE_CAPACITY must be positive")
	}

	return p, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
