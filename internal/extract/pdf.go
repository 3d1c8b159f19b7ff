package extract

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDF extracts text and document-information metadata in process, without a
// Tika server. Image-only pages yield no text.
type PDF struct{}

// NewPDF creates a local PDF extractor.
func NewPDF() *PDF {
	return &PDF{}
}

// Extract reads every page's plain text and the trailer Info dictionary.
func (p *PDF) Extract(ctx context.Context, path string) (res *Result, err error) {
	// The pdf package panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("parse pdf %s: %v", path, r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	var text strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(pageText)
	}

	meta := map[string]any{
		"Content-Type":  "application/pdf",
		"xmpTPg:NPages": strconv.Itoa(numPages),
	}
	info := reader.Trailer().Key("Info")
	for _, key := range info.Keys() {
		if v, ok := infoValue(info.Key(key)); ok {
			meta["pdf:docinfo:"+strings.ToLower(key)] = v
		}
	}

	return &Result{Content: text.String(), Metadata: meta}, nil
}

func infoValue(v pdf.Value) (any, bool) {
	switch v.Kind() {
	case pdf.String:
		return v.Text(), true
	case pdf.Name:
		return v.Name(), true
	case pdf.Integer:
		return v.Int64(), true
	case pdf.Real:
		return v.Float64(), true
	case pdf.Bool:
		return v.Bool(), true
	default:
		return nil, false
	}
}
