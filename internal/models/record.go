package models

import "time"

// RecordEvent announces one row appended to a dataset. It is published after
// the dataset has been saved.
type RecordEvent struct {
	EventID     string         `json:"event_id"`
	DatasetPath string         `json:"dataset_path"`
	Row         int            `json:"row"`
	SourceURL   string         `json:"source_url"`
	FileName    string         `json:"file_name"`
	Content     []string       `json:"content"`
	Metadata    map[string]any `json:"metadata"`
	AppendedAt  time.Time      `json:"appended_at"`
}

// RecordDocument is the canonical structure mirrored into Elasticsearch.
type RecordDocument struct {
	ID          string         `json:"id"`
	DatasetPath string         `json:"dataset_path"`
	Row         int            `json:"row"`
	SourceURL   string         `json:"source_url"`
	Title       string         `json:"title"`
	Text        string         `json:"text"`
	Keywords    []string       `json:"keywords"`
	TokenCount  int            `json:"token_count"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
