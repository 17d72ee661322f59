// Package feeds holds one parser per threat intelligence source. Parsers
// fetch with a shared HTTP client and emit raw per-IP indicators; the
// ingestor handles aggregation and scoring.
package feeds

import (
	"context"
	"net/http"
)

// Feed names as registered in the feed registry.
const (
	NameCINS      = "cins_badguys"
	NameFireHOL   = "firehol_level1"
	NameThreatFox = "threatfox"
	NameURLhaus   = "urlhaus"
	NameOTX       = "otx"
	NameAbuseIPDB = "abuseipdb"
)

// Indicator is one raw observation from a feed
type Indicator struct {
	IP         string
	Type       string
	SourceFeed string
}

// Parser fetches and normalises one feed
type Parser interface {
	// Name is the registry identity of the feed
	Name() string
	// URL is the upstream endpoint, recorded in the registry
	URL() string
	// FeedType is a short tag describing the feed format
	FeedType() string
	// Fetch downloads and parses the feed. Implementations must honour
	// ctx cancellation and return raw indicators without deduplication
	// across feeds.
	Fetch(ctx context.Context, client *http.Client) ([]Indicator, error)
}
