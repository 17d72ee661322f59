package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// AbuseIPDBFeed pulls the AbuseIPDB blacklist endpoint. Rate limited by
// the provider, so it runs on the same sync cadence as everything else
// but with a confidence floor to keep the result set small.
type AbuseIPDBFeed struct {
	url           string
	apiKey        string
	minConfidence int
}

// NewAbuseIPDBFeed creates an AbuseIPDB blacklist parser
func NewAbuseIPDBFeed(apiURL, apiKey string, minConfidence int) *AbuseIPDBFeed {
	if minConfidence <= 0 {
		minConfidence = 90
	}
	return &AbuseIPDBFeed{url: apiURL, apiKey: apiKey, minConfidence: minConfidence}
}

func (f *AbuseIPDBFeed) Name() string     { return NameAbuseIPDB }
func (f *AbuseIPDBFeed) URL() string      { return f.url }
func (f *AbuseIPDBFeed) FeedType() string { return "blacklist_api" }

type abuseIPDBResponse struct {
	Data []struct {
		IPAddress       string `json:"ipAddress"`
		AbuseConfidence int    `json:"abuseConfidenceScore"`
	} `json:"data"`
}

// Fetch returns ErrNoAPIKey when unconfigured. Every returned IP at or
// above the confidence floor becomes a malicious indicator.
func (f *AbuseIPDBFeed) Fetch(ctx context.Context, client *http.Client) ([]Indicator, error) {
	if f.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Key", f.apiKey)
	req.Header.Set("Accept", "application/json")
	q := req.URL.Query()
	q.Set("confidenceMinimum", strconv.Itoa(f.minConfidence))
	req.URL.RawQuery = q.Encode()

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var parsed abuseIPDBResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var out []Indicator
	for _, entry := range parsed.Data {
		if entry.AbuseConfidence < f.minConfidence {
			continue
		}
		out = append(out, Indicator{
			IP:         entry.IPAddress,
			Type:       "malicious",
			SourceFeed: NameAbuseIPDB,
		})
	}
	return out, nil
}
