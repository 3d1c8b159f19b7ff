package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bartoncreek/pdf2dataset/internal/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// ErrInvalidSort is returned for sort fields or orders the index cannot serve.
var ErrInvalidSort = errors.New("invalid sort")

// sortable lists the fields with a doc-values backed mapping.
var sortable = map[string]bool{
	"timestamp":    true,
	"row":          true,
	"token_count":  true,
	"dataset_path": true,
	"source_url":   true,
}

// SortField orders results by one field.
type SortField struct {
	Field string
	Desc  bool
}

func (s SortField) String() string {
	if s.Desc {
		return s.Field + ":desc"
	}
	return s.Field + ":asc"
}

// DefaultSort puts the newest rows first.
var DefaultSort = []SortField{{Field: "timestamp", Desc: true}}

// ParseSort reads a comma-separated list of field[:asc|desc] keys. Fields
// without an order sort descending. An empty string yields DefaultSort.
func ParseSort(raw string) ([]SortField, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultSort, nil
	}

	keys := strings.Split(raw, ",")
	out := make([]SortField, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		field, order, _ := strings.Cut(strings.TrimSpace(key), ":")
		sf := SortField{Field: field, Desc: true}
		switch strings.ToLower(order) {
		case "", "desc":
		case "asc":
			sf.Desc = false
		default:
			return nil, fmt.Errorf("%w: order %q on %q must be asc or desc", ErrInvalidSort, order, field)
		}
		if err := sf.validate(); err != nil {
			return nil, err
		}
		if seen[field] {
			return nil, fmt.Errorf("%w: %q listed twice", ErrInvalidSort, field)
		}
		seen[field] = true
		out = append(out, sf)
	}
	return out, nil
}

func (s SortField) validate() error {
	if !sortable[s.Field] {
		return fmt.Errorf("%w: cannot sort by %q", ErrInvalidSort, s.Field)
	}
	return nil
}

// SearchParams narrow a record search. Zero values mean no restriction.
type SearchParams struct {
	Query    string
	Keywords []string
	Source   string
	Dataset  string
	Start    *time.Time
	End      *time.Time
	From     int
	Size     int
	// Sort defaults to DefaultSort.
	Sort []SortField
}

// SearchResult bundles one page of hits with the total match count.
type SearchResult struct {
	Total int64
	Items []models.RecordDocument
}

type boolQuery struct {
	Must   []any `json:"must,omitempty"`
	Filter []any `json:"filter,omitempty"`
}

type searchRequest struct {
	From           int              `json:"from"`
	Size           int              `json:"size"`
	TrackTotalHits bool             `json:"track_total_hits"`
	Query          map[string]any   `json:"query"`
	Sort           []map[string]any `json:"sort"`
}

func term(field string, value any) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}

// timeRange bounds field inclusively; nil ends are open.
func timeRange(field string, start, end *time.Time) map[string]any {
	bounds := map[string]any{}
	if start != nil {
		bounds["gte"] = start.UTC().Format(time.RFC3339)
	}
	if end != nil {
		bounds["lte"] = end.UTC().Format(time.RFC3339)
	}
	return map[string]any{"range": map[string]any{field: bounds}}
}

func buildSearch(p SearchParams) (*searchRequest, error) {
	sortBy := p.Sort
	if len(sortBy) == 0 {
		sortBy = DefaultSort
	}
	sorts := make([]map[string]any, 0, len(sortBy))
	for _, sf := range sortBy {
		if err := sf.validate(); err != nil {
			return nil, err
		}
		order := "asc"
		if sf.Desc {
			order = "desc"
		}
		sorts = append(sorts, map[string]any{sf.Field: map[string]any{"order": order}})
	}

	var q boolQuery
	if p.Query != "" {
		q.Must = append(q.Must, map[string]any{
			"multi_match": map[string]any{
				"query":  p.Query,
				"fields": []string{"title^2", "text"},
			},
		})
	}
	if len(p.Keywords) > 0 {
		q.Filter = append(q.Filter, map[string]any{"terms": map[string]any{"keywords": p.Keywords}})
	}
	if p.Source != "" {
		q.Filter = append(q.Filter, term("source_url", p.Source))
	}
	if p.Dataset != "" {
		q.Filter = append(q.Filter, term("dataset_path", p.Dataset))
	}
	if p.Start != nil || p.End != nil {
		q.Filter = append(q.Filter, timeRange("timestamp", p.Start, p.End))
	}
	if len(q.Must) == 0 && len(q.Filter) == 0 {
		q.Must = []any{map[string]any{"match_all": map[string]any{}}}
	}

	size := p.Size
	switch {
	case size <= 0:
		size = defaultPageSize
	case size > maxPageSize:
		size = maxPageSize
	}

	return &searchRequest{
		From:           max(p.From, 0),
		Size:           size,
		TrackTotalHits: true,
		Query:          map[string]any{"bool": q},
		Sort:           sorts,
	}, nil
}

// SearchRecords runs a full-text query over title and text with exact-match
// filters. Invalid sort fields fail with ErrInvalidSort before any request.
func (c *Client) SearchRecords(ctx context.Context, params SearchParams) (*SearchResult, error) {
	body, err := buildSearch(params)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()
	if err := responseError("search", res); err != nil {
		return nil, err
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source models.RecordDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := &SearchResult{
		Total: parsed.Hits.Total.Value,
		Items: make([]models.RecordDocument, 0, len(parsed.Hits.Hits)),
	}
	for _, hit := range parsed.Hits.Hits {
		out.Items = append(out.Items, hit.Source)
	}
	return out, nil
}
