package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoAPIKey signals the feed is configured without credentials and
// should be skipped, not reported as a failure.
var ErrNoAPIKey = fmt.Errorf("no API key configured")

// OTXFeed walks AlienVault OTX subscribed pulses and extracts IPv4
// indicators. Requires an API key.
type OTXFeed struct {
	url    string
	apiKey string
}

// NewOTXFeed creates an OTX parser
func NewOTXFeed(apiURL, apiKey string) *OTXFeed {
	return &OTXFeed{url: apiURL, apiKey: apiKey}
}

func (f *OTXFeed) Name() string     { return NameOTX }
func (f *OTXFeed) URL() string      { return f.url }
func (f *OTXFeed) FeedType() string { return "pulse_api" }

type otxResponse struct {
	Results []struct {
		Name       string   `json:"name"`
		Tags       []string `json:"tags"`
		Indicators []struct {
			Indicator string `json:"indicator"`
			Type      string `json:"type"`
		} `json:"indicators"`
	} `json:"results"`
}

// Fetch returns ErrNoAPIKey when no key is set so the caller can skip
// the feed gracefully.
func (f *OTXFeed) Fetch(ctx context.Context, client *http.Client) ([]Indicator, error) {
	if f.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-OTX-API-KEY", f.apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var parsed otxResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var out []Indicator
	for _, pulse := range parsed.Results {
		indicatorType := typeFromTags(pulse.Tags)
		for _, ind := range pulse.Indicators {
			if ind.Type != "IPv4" {
				continue
			}
			out = append(out, Indicator{
				IP:         ind.Indicator,
				Type:       indicatorType,
				SourceFeed: NameOTX,
			})
		}
	}
	return out, nil
}

// typeFromTags derives the indicator type from pulse tags, first match
// wins in severity order.
func typeFromTags(tags []string) string {
	classes := []struct {
		keyword string
		label   string
	}{
		{"c2", "c2"},
		{"command and control", "c2"},
		{"apt", "apt"},
		{"botnet", "botnet"},
		{"malware", "malware"},
		{"scanner", "scanner"},
		{"scanning", "scanner"},
		{"spam", "spam"},
	}
	for _, class := range classes {
		for _, tag := range tags {
			if strings.Contains(strings.ToLower(tag), class.keyword) {
				return class.label
			}
		}
	}
	return "other"
}
