// Package elasticsearch keeps a searchable mirror of appended dataset rows.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	applog "github.com/bartoncreek/pdf2dataset/internal/logger"
	"github.com/bartoncreek/pdf2dataset/internal/models"
)

// Client mirrors dataset rows into an Elasticsearch index.
type Client struct {
	es    *elasticsearch.Client
	index string
	log   *slog.Logger
	now   func() time.Time
}

// recordFields maps every mirrored field to its Elasticsearch type. Filter and
// sort fields are keywords, numbers or dates; metadata is stored unindexed.
var recordFields = map[string]string{
	"id":           "keyword",
	"dataset_path": "keyword",
	"row":          "integer",
	"source_url":   "keyword",
	"title":        "text",
	"text":         "text",
	"keywords":     "keyword",
	"token_count":  "integer",
	"metadata":     "object",
	"timestamp":    "date",
}

func indexMapping() map[string]any {
	props := make(map[string]any, len(recordFields))
	for field, typ := range recordFields {
		prop := map[string]any{"type": typ}
		if typ == "object" {
			prop["enabled"] = false
		}
		props[field] = prop
	}
	return map[string]any{"mappings": map[string]any{"properties": props}}
}

// New builds a client for the cluster at addr. It does not contact the cluster;
// use Connect to wait for it.
func New(addr, index string, logger *slog.Logger) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Client{es: es, index: index, log: applog.OrDiscard(logger), now: time.Now}, nil
}

// EnsureIndex creates the index with the record mapping unless it exists.
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", c.index, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	payload, err := json.Marshal(indexMapping())
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}
	res, err = c.es.Indices.Create(c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", c.index, err)
	}
	defer res.Body.Close()

	if err := responseError("create index", res); err != nil {
		// Lost a race against another service creating it.
		if strings.Contains(err.Error(), "resource_already_exists_exception") {
			return nil
		}
		return err
	}
	c.log.Info("index created", slog.String("index", c.index))
	return nil
}

// Ping checks that the cluster answers.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("ping elasticsearch: %s", res.Status())
	}
	return nil
}

// Health reports an error unless the cluster health endpoint answers.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("cluster health: %w", err)
	}
	defer res.Body.Close()
	return responseError("cluster health", res)
}

// IndexRecord upserts doc under its ID, so replayed events overwrite the same
// document.
func (c *Client) IndexRecord(ctx context.Context, doc models.RecordDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", doc.ID, err)
	}

	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(payload),
		Refresh:    "false",
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("index record %s: %w", doc.ID, err)
	}
	defer res.Body.Close()
	return responseError("index record "+doc.ID, res)
}

// responseError turns an error response into an error naming op. Structured
// Elasticsearch errors are reduced to their type and reason.
func responseError(op string, res *esapi.Response) error {
	if !res.IsError() {
		return nil
	}
	data, _ := io.ReadAll(res.Body)

	var body struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error.Type != "" {
		return fmt.Errorf("%s: %s: %s: %s", op, res.Status(), body.Error.Type, body.Error.Reason)
	}
	return fmt.Errorf("%s: %s: %s", op, res.Status(), strings.TrimSpace(string(data)))
}
