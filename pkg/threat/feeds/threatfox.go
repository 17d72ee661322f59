package feeds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// ThreatFoxFeed queries the abuse.ch ThreatFox IOC API.
type ThreatFoxFeed struct {
	url  string
	days int
}

// NewThreatFoxFeed creates a ThreatFox parser querying IOCs from the
// last `days` days.
func NewThreatFoxFeed(apiURL string, days int) *ThreatFoxFeed {
	if days <= 0 {
		days = 1
	}
	return &ThreatFoxFeed{url: apiURL, days: days}
}

func (f *ThreatFoxFeed) Name() string     { return NameThreatFox }
func (f *ThreatFoxFeed) URL() string      { return f.url }
func (f *ThreatFoxFeed) FeedType() string { return "ioc_api" }

type threatFoxQuery struct {
	Query string `json:"query"`
	Days  int    `json:"days"`
}

type threatFoxResponse struct {
	QueryStatus string `json:"query_status"`
	Data        []struct {
		IOC         string `json:"ioc"`
		IOCType     string `json:"ioc_type"`
		ThreatType  string `json:"threat_type"`
		MalwareName string `json:"malware"`
	} `json:"data"`
}

// Fetch POSTs a recent-IOC query and extracts IP indicators. ip:port
// IOCs split on the last colon, url IOCs contribute their host, other
// types are taken verbatim; anything that does not parse as an IP is
// dropped.
func (f *ThreatFoxFeed) Fetch(ctx context.Context, client *http.Client) ([]Indicator, error) {
	body, err := json.Marshal(threatFoxQuery{Query: "get_iocs", Days: f.days})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var parsed threatFoxResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var out []Indicator
	for _, ioc := range parsed.Data {
		ip := extractIOCHost(ioc.IOC, ioc.IOCType)
		if ip == "" || net.ParseIP(ip) == nil {
			continue
		}
		out = append(out, Indicator{
			IP:         ip,
			Type:       normalizeThreatType(ioc.ThreatType),
			SourceFeed: NameThreatFox,
		})
	}
	return out, nil
}

func extractIOCHost(ioc, iocType string) string {
	switch iocType {
	case "ip:port":
		idx := strings.LastIndex(ioc, ":")
		if idx < 0 {
			return ioc
		}
		return ioc[:idx]
	case "url":
		u, err := url.Parse(ioc)
		if err != nil {
			return ""
		}
		return u.Hostname()
	default:
		return ioc
	}
}

func normalizeThreatType(threatType string) string {
	switch {
	case strings.Contains(threatType, "botnet_cc"), strings.Contains(threatType, "c2"):
		return "c2"
	case strings.Contains(threatType, "botnet"):
		return "botnet"
	case strings.Contains(threatType, "payload"):
		return "malware"
	case threatType == "":
		return "malicious"
	default:
		return "malicious"
	}
}
