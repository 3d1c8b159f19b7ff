package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bartoncreek/pdf2dataset/internal/config"
	"github.com/bartoncreek/pdf2dataset/internal/dataset"
	"github.com/bartoncreek/pdf2dataset/internal/elasticsearch"
	"github.com/bartoncreek/pdf2dataset/internal/ingest"
	"github.com/bartoncreek/pdf2dataset/internal/logger"
)

const maxRequestBody = 1 << 16

var errBadDatasetName = errors.New("dataset name must be a single path element")

type ingester interface {
	Process(ctx context.Context, rawURL, datasetPath string) (*dataset.Dataset, error)
}

type searcher interface {
	SearchRecords(ctx context.Context, params elasticsearch.SearchParams) (*elasticsearch.SearchResult, error)
	Health(ctx context.Context) error
}

func main() {
	log := logger.New("api")
	if err := config.LoadDotEnv(); err != nil {
		log.Error("load .env", slog.Any("err", err))
		os.Exit(1)
	}
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	pipeline, err := ingest.Build(&cfg.Pipeline, log, io.Discard)
	if err != nil {
		log.Error("init pipeline", slog.Any("err", err))
		os.Exit(1)
	}
	defer pipeline.Close()

	if err := os.MkdirAll(cfg.DatasetRoot, 0o755); err != nil {
		log.Error("create dataset root", slog.Any("err", err))
		os.Exit(1)
	}

	srv := &server{log: log, cfg: cfg, es: esClient, pipeline: pipeline}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Ingestion downloads and extracts before responding.
		WriteTimeout: 10 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go func() {
		log.Info("api server starting",
			slog.String("addr", cfg.BindAddr),
			slog.String("dataset_root", cfg.DatasetRoot),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

type server struct {
	log      *slog.Logger
	cfg      *config.API
	es       searcher
	pipeline ingester

	// ingestMu serializes ingestion; the pipeline itself takes no locks.
	ingestMu sync.Mutex
}

type errorResponse struct {
	Error string `json:"error"`
}

type ingestRequest struct {
	URL     string `json:"url"`
	Dataset string `json:"dataset"`
}

type datasetResponse struct {
	Name    string          `json:"name"`
	Summary dataset.Summary `json:"summary"`
	Info    *dataset.Info   `json:"info,omitempty"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/ingest", s.handleIngest)
	r.Put("/datasets/{name}", s.handleCreateDataset)
	r.Get("/datasets/{name}", s.handleDataset)
	r.Get("/records", s.handleSearch)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.es.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "url is required"})
		return
	}
	dir, err := s.datasetDir(req.Dataset)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	s.ingestMu.Lock()
	d, err := s.pipeline.Process(r.Context(), req.URL, dir)
	s.ingestMu.Unlock()

	switch {
	case errors.Is(err, ingest.ErrInvalidURL):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, ingest.ErrDatasetDirectoryMissing):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "dataset " + req.Dataset + " does not exist"})
		return
	case err != nil:
		s.log.Error("ingest failed", slog.String("url", req.URL), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, datasetResponse{Name: req.Dataset, Summary: d.Summary()})
}

func (s *server) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	dir, err := s.datasetDir(name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	status := http.StatusOK
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		status = http.StatusCreated
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, status, map[string]string{"name": name})
}

func (s *server) handleDataset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	dir, err := s.datasetDir(name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	d, err := dataset.Load(dir)
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "dataset " + name + " not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	resp := datasetResponse{Name: name, Summary: d.Summary()}
	if info, err := dataset.ReadInfo(dir); err == nil {
		resp.Info = info
	} else {
		s.log.Warn("read dataset info", slog.String("dataset", name), slog.Any("err", err))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	q := r.URL.Query()
	sortBy, err := elasticsearch.ParseSort(q.Get("sort"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	params := elasticsearch.SearchParams{
		Query:    strings.TrimSpace(q.Get("q")),
		Keywords: parseCSV(q.Get("keywords")),
		Source:   strings.TrimSpace(q.Get("source")),
		From:     clampInt(q.Get("from"), 0, 10_000),
		Size:     clampInt(q.Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage),
		Sort:     sortBy,
		Start:    parseTime(q.Get("start")),
		End:      parseTime(q.Get("end")),
	}
	if name := strings.TrimSpace(q.Get("dataset")); name != "" {
		dir, err := s.datasetDir(name)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		params.Dataset = dir
	}

	result, err := s.es.SearchRecords(ctx, params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, elasticsearch.ErrInvalidSort) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// datasetDir maps a dataset name to its directory under the dataset root.
func (s *server) datasetDir(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", errBadDatasetName
	}
	return filepath.Join(s.cfg.DatasetRoot, name), nil
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts
	}
	return nil
}

func parseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
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

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
