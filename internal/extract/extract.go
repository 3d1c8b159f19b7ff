// Package extract turns a local document into plain text plus metadata.
package extract

import (
	"context"
	"net/http"
)

// Result is the text and metadata pulled out of one document.
type Result struct {
	Content  string
	Metadata map[string]any
}

// Extractor reads a local file and returns its plain text and metadata.
type Extractor interface {
	Extract(ctx context.Context, path string) (*Result, error)
}

// New returns a Tika-backed extractor when tikaURL is set and the local PDF
// extractor otherwise.
func New(tikaURL string, client *http.Client) Extractor {
	if tikaURL != "" {
		return NewTika(client, tikaURL)
	}
	return NewPDF()
}
