package storage

import (
	"context"
	"time"
)

// Store defines the relational persistence contract shared by the DNS
// pipeline, the threat ingestor, and the firewall service.
// Implementations must be thread-safe and support concurrent access.
type Store interface {
	// Blocklists
	UpsertBlocklist(ctx context.Context, list *Blocklist) (int64, error)
	ListBlocklists(ctx context.Context) ([]*Blocklist, error)
	ReplaceBlockedDomains(ctx context.Context, blocklistID int64, domains []BlockedDomain) error
	LoadBlockedDomains(ctx context.Context) ([]BlockedDomain, error)

	// Custom rules
	InsertCustomRule(ctx context.Context, rule *CustomRule) error
	DeactivateCustomRule(ctx context.Context, id string) error
	ListCustomRules(ctx context.Context, activeOnly bool) ([]*CustomRule, error)
	IncrementRuleHit(ctx context.Context, id string) error

	// Hourly query statistics
	AddQueryStats(ctx context.Context, date string, hour int, total, blocked, allowed, cacheHits int64) error
	GetQueryStats(ctx context.Context, sinceDate string) ([]*QueryHourStats, error)
	AddTopDomain(ctx context.Context, domain, category string, count int64, lastBlocked time.Time) error
	TopBlockedDomains(ctx context.Context, limit int) ([]*TopDomain, error)

	// Threat feeds
	UpsertThreatFeed(ctx context.Context, feed *ThreatFeed) error
	ListThreatFeeds(ctx context.Context) ([]*ThreatFeed, error)
	GetThreatFeed(ctx context.Context, name string) (*ThreatFeed, error)
	MarkThreatFeedSynced(ctx context.Context, name string, at time.Time, entries int) error

	// Threat indicators
	GetIndicatorByHash(ctx context.Context, subnetHash string) (*ThreatIndicator, error)
	SaveIndicators(ctx context.Context, indicators []*ThreatIndicator) error
	DeleteExpiredIndicators(ctx context.Context, now time.Time) (int64, error)
	HighScoreIndicators(ctx context.Context, minScore float64, now time.Time) ([]*ThreatIndicator, error)
	ThreatStats(ctx context.Context) (*ThreatStats, error)

	// Firewall rules
	InsertFirewallRule(ctx context.Context, rule *FirewallRule) error
	ListFirewallRules(ctx context.Context, activeOnly bool) ([]*FirewallRule, error)
	GetFirewallRule(ctx context.Context, id string) (*FirewallRule, error)
	SetFirewallRuleActive(ctx context.Context, id string, active bool) error
	DeleteFirewallRule(ctx context.Context, id string) error
	FirewallRuleExists(ctx context.Context, ruleType, target string) (bool, error)
	IncrementFirewallRuleHit(ctx context.Context, id string) error

	// Firewall events
	InsertFirewallEvent(ctx context.Context, event *FirewallEvent) error
	ListFirewallEvents(ctx context.Context, limit int) ([]*FirewallEvent, error)
	DailyFirewallStats(ctx context.Context, days int) ([]*DailyFirewallStat, error)

	// Maintenance
	Ping(ctx context.Context) error
	Close() error
}

// Blocklist represents a configured blocklist source
type Blocklist struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Format      string    `json:"format"` // hosts, domains
	Category    string    `json:"category"`
	DomainCount int64     `json:"domain_count"`
	IsEnabled   bool      `json:"is_enabled"`
	LastUpdated time.Time `json:"last_updated"`
	ETag        string    `json:"etag,omitempty"`
}

// BlockedDomain is a single blocked FQDN belonging to a blocklist
type BlockedDomain struct {
	Domain      string `json:"domain"`
	BlocklistID int64  `json:"blocklist_id"`
	Category    string `json:"category"`
}

// CustomRule is a user allow/block rule
type CustomRule struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"` // allow, block
	Domain    string    `json:"domain"`
	Category  string    `json:"category"`
	Reason    string    `json:"reason"`
	HitCount  int64     `json:"hit_count"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// QueryHourStats is the per-(date, hour) counter row
type QueryHourStats struct {
	ID             int64  `json:"id"`
	Date           string `json:"date"` // YYYY-MM-DD, UTC
	Hour           int    `json:"hour"`
	TotalQueries   int64  `json:"total_queries"`
	BlockedQueries int64  `json:"blocked_queries"`
	AllowedQueries int64  `json:"allowed_queries"`
	CacheHits      int64  `json:"cache_hits"`
}

// TopDomain is the rolling per-domain block counter
type TopDomain struct {
	Domain      string    `json:"domain"`
	BlockCount  int64     `json:"block_count"`
	Category    string    `json:"category"`
	LastBlocked time.Time `json:"last_blocked"`
}

// ThreatFeed is a registered threat intelligence source
type ThreatFeed struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	FeedURL      string     `json:"feed_url"`
	FeedType     string     `json:"feed_type"`
	Enabled      bool       `json:"enabled"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	EntriesCount int64      `json:"entries_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ThreatIndicator is a /24 subnet aggregate keyed by its HMAC hash.
// SubnetPrefix is persisted only for private-range subnets.
type ThreatIndicator struct {
	ID             int64     `json:"id"`
	SubnetHash     string    `json:"subnet_hash"`
	SubnetPrefix   string    `json:"subnet_prefix,omitempty"`
	ThreatScore    float64   `json:"threat_score"`
	SourceFeeds    []string  `json:"source_feeds"`
	IndicatorTypes []string  `json:"indicator_types"`
	CVERefs        []string  `json:"cve_refs,omitempty"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	ReportCount    int64     `json:"report_count"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// ThreatStats summarises the indicator table
type ThreatStats struct {
	TotalIndicators int64   `json:"total_indicators"`
	HighScore       int64   `json:"high_score"` // score >= 0.7
	AvgScore        float64 `json:"avg_score"`
	FeedCount       int64   `json:"feed_count"`
}

// FirewallRule is a materialised packet-filter rule
type FirewallRule struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`      // block_ip, block_port, block_domain, allow_ip, allow_domain
	Target    string     `json:"target"`    // IP/CIDR, port, or domain
	Direction string     `json:"direction"` // inbound, outbound, both
	Protocol  string     `json:"protocol"`  // tcp, udp, any
	Source    string     `json:"source"`    // user, threat_intel, remediation
	Reason    string     `json:"reason"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	HitCount  int64      `json:"hit_count"`
}

// FirewallEvent records a rule-set mutation or adapter action
type FirewallEvent struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"` // rule_added, rule_removed, rule_toggled, threat_sync, port_sync, apply
	RuleID    string    `json:"rule_id,omitempty"`
	Target    string    `json:"target,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DailyFirewallStat aggregates firewall events per calendar day
type DailyFirewallStat struct {
	Date   string `json:"date"`
	Events int64  `json:"events"`
	Adds   int64  `json:"adds"`
	Syncs  int64  `json:"syncs"`
}
