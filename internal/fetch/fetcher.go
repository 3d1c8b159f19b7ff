// Package fetch probes URLs and downloads documents into a local file cache
// keyed by the last path segment of the URL.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const tempFilePrefix = ".download-"

// StatusError reports an HTTP response with an error status.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("HTTP %d %s", e.Code, http.StatusText(e.Code))
	}
	return "HTTP " + e.Status
}

// Result describes a cached download.
type Result struct {
	Path       string
	FileName   string
	Downloaded bool
	Bytes      int64
}

// Fetcher performs the HTTP side of ingestion.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// New creates a fetcher. A nil client gets a default one without a timeout.
func New(client *http.Client, userAgent string, maxBytes int64) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{client: client, userAgent: userAgent, maxBytes: maxBytes}
}

// NewDefault creates a fetcher whose transport bounds connection setup but
// not the transfer itself.
func NewDefault(userAgent string, maxBytes int64) *Fetcher {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}
	return New(&http.Client{Transport: transport}, userAgent, maxBytes)
}

// Probe opens rawURL and closes the response without reading it. Transport
// failures and error statuses are returned.
func (f *Fetcher) Probe(ctx context.Context, rawURL string) error {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// FileName derives the cache file name: everything after the last "/".
// Query strings and fragments are kept as-is.
func FileName(rawURL string) string {
	if i := strings.LastIndex(rawURL, "/"); i >= 0 {
		return rawURL[i+1:]
	}
	return rawURL
}

// Download stores rawURL under dir/FileName(rawURL) unless that file already
// exists, in which case the existing file is reused without checking its
// origin. The body is written to a temporary file and linked into place, so a
// concurrent download of the same name never leaves a partial file.
func (f *Fetcher) Download(ctx context.Context, rawURL, dir string) (*Result, error) {
	name := FileName(rawURL)
	if name == "" || name == "." || name == ".." {
		return nil, fmt.Errorf("derive file name from %q: empty last path segment", rawURL)
	}
	target := filepath.Join(dir, name)
	res := &Result{Path: target, FileName: name}

	cached, err := isFile(target)
	if err != nil {
		return nil, err
	}
	if cached {
		return res, nil
	}

	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(dir, tempFilePrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("read body: %w", err)
	}
	if n > f.maxBytes {
		tmp.Close()
		return nil, fmt.Errorf("content too large (exceeds %d bytes)", f.maxBytes)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	if err := publish(tmp.Name(), target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			// Lost a race against another download of the same name.
			return res, nil
		}
		return nil, err
	}

	res.Downloaded = true
	res.Bytes = n
	return res, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return resp, nil
}

// publish moves tmp to target only if target does not exist yet.
func publish(tmp, target string) error {
	err := os.Link(tmp, target)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		return err
	}
	// Filesystems without hard links: fall back to a plain rename.
	if rerr := os.Rename(tmp, target); rerr != nil {
		return fmt.Errorf("move download into place: %w", rerr)
	}
	return nil
}

func isFile(path string) (bool, error) {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return st.Mode().IsRegular(), nil
}
