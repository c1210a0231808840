package htmldom

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Fetcher loads pages over plain HTTP into a Document. No script runs, so
// cards a page injects client-side are missing; see Document.IsShell.
type Fetcher struct {
	client   *http.Client
	ua       string
	maxBytes int64
	logger   *slog.Logger
}

// FetchOption configures a Fetcher.
type FetchOption func(*Fetcher)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) FetchOption {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) FetchOption {
	return func(f *Fetcher) { f.ua = ua }
}

// WithMaxBytes caps the body read. Default: 10MB.
func WithMaxBytes(n int64) FetchOption {
	return func(f *Fetcher) { f.maxBytes = n }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) FetchOption {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts ...FetchOption) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		ua:       "Mozilla/5.0 (compatible; catblock/1.0)",
		maxBytes: 10 << 20,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch GETs pageURL and parses the body. Non-2xx responses and bodies
// larger than the size cap are errors.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("htmldom: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("htmldom: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("htmldom: fetch %s: status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("htmldom: fetch %s: read body: %w", pageURL, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("htmldom: fetch %s: body exceeds %d bytes", pageURL, f.maxBytes)
	}

	doc, err := Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	f.logger.Debug("htmldom: fetched", "url", pageURL, "status", resp.StatusCode, "bytes", len(body))
	return doc, nil
}

// IsShell reports whether the document looks like a client-rendered app
// shell: an empty mount point or almost no visible text. Filtering such a
// page offline finds no cards.
func (d *Document) IsShell() bool {
	root := d.Root()
	for _, sel := range []string{"#root:empty", "#app:empty", "#__next:empty"} {
		if n, err := root.Query(sel); err == nil && n != nil {
			return true
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	body := findElement(d.root, "body")
	if body == nil {
		return true
	}
	var sb strings.Builder
	collectVisibleText(body, &sb)
	return len(strings.Join(strings.Fields(sb.String()), " ")) < 200
}
