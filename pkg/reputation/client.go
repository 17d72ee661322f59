// Package reputation provides rate-limited, cached single-IP reputation
// lookups against an AbuseIPDB-style provider.
package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"netwarden/pkg/config"
	"netwarden/pkg/logging"
)

const defaultEndpoint = "https://api.abuseipdb.com/api/v2/check"

// Record is a normalised reputation result
type Record struct {
	IP           string    `json:"ip"`
	Score        float64   `json:"score"` // provider confidence scaled to [0, 1]
	Confidence   int       `json:"confidence"`
	TotalReports int       `json:"total_reports"`
	CountryCode  string    `json:"country_code,omitempty"`
	ISP          string    `json:"isp,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

type cacheEntry struct {
	record   *Record
	cachedAt time.Time
}

// Client performs reputation lookups. All lookups go through a TTL
// cache and a daily call counter that resets when the calendar day
// changes.
type Client struct {
	cfg      *config.ReputationConfig
	endpoint string
	client   *http.Client
	logger   *logging.Logger

	mu       sync.Mutex
	cache    map[string]cacheEntry
	calls    int
	callsDay string // YYYY-MM-DD of the counter
}

// NewClient creates a reputation client
func NewClient(cfg *config.ReputationConfig, logger *logging.Logger) *Client {
	return &Client{
		cfg:      cfg,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
		cache:    make(map[string]cacheEntry),
	}
}

type checkResponse struct {
	Data struct {
		IPAddress       string `json:"ipAddress"`
		AbuseConfidence int    `json:"abuseConfidenceScore"`
		TotalReports    int    `json:"totalReports"`
		CountryCode     string `json:"countryCode"`
		ISP             string `json:"isp"`
	} `json:"data"`
}

// Check looks up one IP. Returns (nil, nil) when the client is
// unconfigured, rate limited, or the provider call fails; reputation is
// advisory and never blocks the caller.
func (c *Client) Check(ctx context.Context, ip string) (*Record, error) {
	if c.cfg.APIKey == "" {
		return nil, nil
	}

	if rec := c.cached(ip); rec != nil {
		return rec, nil
	}

	if !c.reserveCall() {
		c.logger.Warn("Reputation daily limit reached", "limit", c.cfg.DailyLimit)
		return nil, nil
	}

	rec, err := c.fetch(ctx, ip)
	if err != nil {
		c.releaseCall()
		c.logger.Warn("Reputation lookup failed", "ip", ip, "error", err)
		return nil, nil
	}

	c.mu.Lock()
	c.cache[ip] = cacheEntry{record: rec, cachedAt: time.Now()}
	c.mu.Unlock()
	return rec, nil
}

func (c *Client) cached(ip string) *Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[ip]
	if !ok || time.Since(entry.cachedAt) > c.cfg.CacheTTL {
		return nil
	}
	return entry.record
}

// reserveCall consumes one unit of the daily budget. The counter resets
// whenever the UTC calendar day rolls over.
func (c *Client) reserveCall() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	today := time.Now().UTC().Format("2006-01-02")
	if c.callsDay != today {
		c.callsDay = today
		c.calls = 0
	}
	if c.calls >= c.cfg.DailyLimit {
		return false
	}
	c.calls++
	return true
}

func (c *Client) releaseCall() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls > 0 {
		c.calls--
	}
}

func (c *Client) fetch(ctx context.Context, ip string) (*Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	q := req.URL.Query()
	q.Set("ipAddress", ip)
	q.Set("maxAgeInDays", strconv.Itoa(90))
	req.URL.RawQuery = q.Encode()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var parsed checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &Record{
		IP:           ip,
		Score:        normalizeScore(parsed.Data.AbuseConfidence),
		Confidence:   parsed.Data.AbuseConfidence,
		TotalReports: parsed.Data.TotalReports,
		CountryCode:  parsed.Data.CountryCode,
		ISP:          parsed.Data.ISP,
		CheckedAt:    time.Now(),
	}, nil
}

// normalizeScore scales the provider's 0-100 confidence to [0, 1],
// clamping out-of-range inputs.
func normalizeScore(confidence int) float64 {
	score := float64(confidence) / 100
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Usage reports today's consumed and remaining call budget
func (c *Client) Usage() (used, limit int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	today := time.Now().UTC().Format("2006-01-02")
	if c.callsDay != today {
		return 0, c.cfg.DailyLimit
	}
	return c.calls, c.cfg.DailyLimit
}
