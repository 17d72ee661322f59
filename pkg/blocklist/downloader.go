package blocklist

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"netwarden/pkg/logging"
)

// ErrNotModified is returned when the source answered 304 for our ETag.
var ErrNotModified = fmt.Errorf("blocklist: not modified")

// Downloader downloads and parses blocklist sources over a shared HTTP client
type Downloader struct {
	client *http.Client
	logger *logging.Logger
}

// NewDownloader creates a new blocklist downloader. If client is nil a
// default client with a long timeout is used (blocklists can be large).
func NewDownloader(logger *logging.Logger, client *http.Client) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Downloader{client: client, logger: logger}
}

// Download fetches one source and returns its parsed domain set plus the
// response ETag (empty when the server sent none). Passing the previously
// stored ETag lets unchanged sources short-circuit with ErrNotModified.
func (d *Downloader) Download(ctx context.Context, url, format, etag string) ([]string, string, error) {
	d.logger.Info("Downloading blocklist", "url", url, "format", format)
	startTime := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download blocklist: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified {
		return nil, etag, ErrNotModified
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	domains, err := Parse(resp.Body, format)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse blocklist: %w", err)
	}

	d.logger.Info("Blocklist downloaded",
		"url", url,
		"domains", len(domains),
		"duration", time.Since(startTime))

	return domains, resp.Header.Get("ETag"), nil
}
