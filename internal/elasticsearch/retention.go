package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

const defaultDeleteBatch = 1000

// DeleteOlderThan removes every record whose timestamp is at or before
// now-maxAge with a single delete-by-query task and returns the number
// deleted. batchSize is the scroll size the cluster works through per batch.
func (c *Client) DeleteOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = defaultDeleteBatch
	}
	cutoff := c.now().Add(-maxAge)

	payload, err := json.Marshal(map[string]any{"query": timeRange("timestamp", nil, &cutoff)})
	if err != nil {
		return 0, fmt.Errorf("marshal delete query: %w", err)
	}

	res, err := c.es.DeleteByQuery(
		[]string{c.index},
		bytes.NewReader(payload),
		c.es.DeleteByQuery.WithContext(ctx),
		c.es.DeleteByQuery.WithConflicts("proceed"),
		c.es.DeleteByQuery.WithScrollSize(batchSize),
		c.es.DeleteByQuery.WithWaitForCompletion(true),
	)
	if err != nil {
		return 0, fmt.Errorf("delete by query: %w", err)
	}
	defer res.Body.Close()
	if err := responseError("delete by query", res); err != nil {
		return 0, err
	}

	var parsed struct {
		Deleted          int64             `json:"deleted"`
		VersionConflicts int64             `json:"version_conflicts"`
		Failures         []json.RawMessage `json:"failures"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode delete response: %w", err)
	}
	if len(parsed.Failures) > 0 {
		return parsed.Deleted, fmt.Errorf("delete by query: %d failures, first: %s", len(parsed.Failures), parsed.Failures[0])
	}
	if parsed.VersionConflicts > 0 {
		c.log.Warn("records changed during retention delete",
			slog.Int64("conflicts", parsed.VersionConflicts),
		)
	}
	return parsed.Deleted, nil
}
