package extract

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/go-tika/tika"
)

// Tika extracts through an Apache Tika server's recursive metadata endpoint,
// asking for plain text rather than XHTML.
type Tika struct {
	client *tika.Client
}

// NewTika creates an extractor for the Tika server at serverURL.
func NewTika(client *http.Client, serverURL string) *Tika {
	return &Tika{client: tika.NewClient(client, strings.TrimRight(serverURL, "/"))}
}

// Extract sends the file to Tika. The first entry of the response describes
// the container document; embedded documents are ignored.
func (t *Tika) Extract(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	docs, err := t.client.MetaRecursiveType(ctx, f, "text")
	if err != nil {
		return nil, fmt.Errorf("tika parse %s: %w", path, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("tika parse %s: empty response", path)
	}

	top := docs[0]
	res := &Result{
		Content:  strings.Join(top[tika.XTIKAContent], ""),
		Metadata: make(map[string]any, len(top)),
	}
	for key, values := range top {
		if key == tika.XTIKAContent {
			continue
		}
		switch len(values) {
		case 0:
		case 1:
			res.Metadata[key] = values[0]
		default:
			res.Metadata[key] = append([]string{}, values...)
		}
	}
	return res, nil
}
