package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// URLhausFeed pulls recently submitted malware-distribution URLs from
// the abuse.ch URLhaus API and keeps the ones hosted on literal IPs.
type URLhausFeed struct {
	url string
}

// NewURLhausFeed creates a URLhaus parser
func NewURLhausFeed(apiURL string) *URLhausFeed {
	return &URLhausFeed{url: apiURL}
}

func (f *URLhausFeed) Name() string     { return NameURLhaus }
func (f *URLhausFeed) URL() string      { return f.url }
func (f *URLhausFeed) FeedType() string { return "url_api" }

type urlhausResponse struct {
	QueryStatus string `json:"query_status"`
	URLs        []struct {
		URL    string `json:"url"`
		Threat string `json:"threat"`
	} `json:"urls"`
}

// Fetch parses each URL and keeps its host only when the host is a
// numeric IP. Duplicates within the batch are collapsed.
func (f *URLhausFeed) Fetch(ctx context.Context, client *http.Client) ([]Indicator, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var parsed urlhausResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	seen := make(map[string]struct{})
	var out []Indicator
	for _, entry := range parsed.URLs {
		u, err := url.Parse(entry.URL)
		if err != nil {
			continue
		}
		host := u.Hostname()
		if net.ParseIP(host) == nil {
			continue
		}
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}
		out = append(out, Indicator{
			IP:         host,
			Type:       "malware",
			SourceFeed: NameURLhaus,
		})
	}
	return out, nil
}
