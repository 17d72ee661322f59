package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// DNS server settings
	DNS DNSConfig `yaml:"dns"`

	// Upstream resolution (DoH primary, plain UDP fallback)
	Upstream UpstreamConfig `yaml:"upstream"`

	// Cache settings
	Cache CacheConfig `yaml:"cache"`

	// Blocklist sources and refresh
	Blocklist BlocklistConfig `yaml:"blocklist"`

	// Statistics flushing
	Stats StatsConfig `yaml:"stats"`

	// Threat intelligence ingestion
	Threat ThreatConfig `yaml:"threat"`

	// Reputation lookups (AbuseIPDB-style provider)
	Reputation ReputationConfig `yaml:"reputation"`

	// Firewall control plane
	Firewall FirewallConfig `yaml:"firewall"`

	// Alerting
	Alerts AlertsConfig `yaml:"alerts"`

	// Storage
	Storage StorageConfig `yaml:"storage"`

	// HTTP control plane
	API APIConfig `yaml:"api"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry (OTEL)
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// PID file used as the single-instance lock
	PIDFile string `yaml:"pid_file"`
}

// DNSConfig holds the DNS listener settings
type DNSConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	TCPEnabled  bool   `yaml:"tcp_enabled"`
	UDPEnabled  bool   `yaml:"udp_enabled"`
	SinkholeIP  string `yaml:"sinkhole_ip"`
	SinkholeTTL uint32 `yaml:"sinkhole_ttl"`
}

// ListenAddress returns the host:port bind target for the DNS listeners.
func (c *DNSConfig) ListenAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// UpstreamConfig holds upstream resolver settings
type UpstreamConfig struct {
	DoHURL     string        `yaml:"doh_url"`
	FallbackIP string        `yaml:"fallback_ip"`
	Timeout    time.Duration `yaml:"timeout"`
}

// CacheConfig holds cache settings
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// BlocklistSource describes a single configured blocklist download.
type BlocklistSource struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Format   string `yaml:"format"` // hosts, domains
	Category string `yaml:"category"`
}

// BlocklistConfig holds blocklist sources and the refresh period
type BlocklistConfig struct {
	Sources        []BlocklistSource `yaml:"sources"`
	UpdateInterval time.Duration     `yaml:"update_interval"`
}

// StatsConfig holds statistics flush settings
type StatsConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	TopDomains    int           `yaml:"top_domains"`
}

// ThreatConfig holds threat ingestion settings
type ThreatConfig struct {
	HMACKey      string        `yaml:"hmac_key"`
	ExpiryDays   int           `yaml:"expiry_days"`
	SyncInterval time.Duration `yaml:"sync_interval"`
	FeedTimeout  time.Duration `yaml:"feed_timeout"`
	OTXAPIKey    string        `yaml:"otx_api_key"`
}

// ReputationConfig holds reputation client settings
type ReputationConfig struct {
	APIKey     string        `yaml:"api_key"`
	DailyLimit int           `yaml:"daily_limit"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

// FirewallConfig holds firewall service settings
type FirewallConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ThreatScoreMin float64       `yaml:"threat_score_min"`
	AutoSync       bool          `yaml:"auto_sync"`
	SyncInterval   time.Duration `yaml:"sync_interval"`
}

// AlertsConfig holds alert pipeline settings
type AlertsConfig struct {
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
	MassThreshold  int           `yaml:"mass_threshold"`
	MinSeverity    string        `yaml:"min_severity"`
	Rules          []AlertRule   `yaml:"rules"`
}

// AlertRule describes a user rule matched against newly discovered devices.
// IPPrefix and MACPrefix are simple prefix matches; Condition is an optional
// expr expression evaluated against the asset for anything richer.
type AlertRule struct {
	Name      string `yaml:"name"`
	IPPrefix  string `yaml:"ip_prefix"`
	MACPrefix string `yaml:"mac_prefix"`
	Condition string `yaml:"condition"`
	Severity  string `yaml:"severity"`
}

// StorageConfig holds storage settings
type StorageConfig struct {
	DatabaseURL string `yaml:"database_url"`
	BusyTimeout int    `yaml:"busy_timeout"`
	CacheSize   int    `yaml:"cache_size"`
	WALMode     bool   `yaml:"wal_mode"`
}

// APIConfig holds HTTP control plane settings
type APIConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level     string `yaml:"level"`      // debug, info, warn, error
	Format    string `yaml:"format"`     // json, text
	Output    string `yaml:"output"`     // stdout, stderr, file
	FilePath  string `yaml:"file_path"`  // if output=file
	AddSource bool   `yaml:"add_source"` // include source file/line
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ServiceName       string `yaml:"service_name"`
	ServiceVersion    string `yaml:"service_version"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
}

// Load loads the configuration from a YAML file. Environment variables
// override file values so the daemon can run file-less in containers.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults creates a configuration with sensible defaults
func LoadWithDefaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyEnv overlays the documented environment variables onto the config.
func (c *Config) applyEnv() {
	setString(&c.Storage.DatabaseURL, "DATABASE_URL")
	setString(&c.DNS.Host, "GUARDIAN_DNS_HOST")
	setInt(&c.DNS.Port, "GUARDIAN_DNS_PORT")
	setString(&c.Upstream.DoHURL, "GUARDIAN_UPSTREAM_DOH")
	setString(&c.Upstream.FallbackIP, "GUARDIAN_UPSTREAM_FALLBACK")
	setInt(&c.Cache.MaxEntries, "GUARDIAN_CACHE_SIZE")
	setSeconds(&c.Cache.DefaultTTL, "GUARDIAN_CACHE_TTL")
	setString(&c.DNS.SinkholeIP, "GUARDIAN_SINKHOLE_IP")
	setHours(&c.Blocklist.UpdateInterval, "GUARDIAN_BLOCKLIST_UPDATE_HOURS")
	setString(&c.Threat.HMACKey, "THREAT_HMAC_KEY")
	setInt(&c.Threat.ExpiryDays, "THREAT_EXPIRY_DAYS")
	setString(&c.Threat.OTXAPIKey, "OTX_API_KEY")
	setString(&c.Reputation.APIKey, "ABUSEIPDB_API_KEY")
	setInt(&c.Reputation.DailyLimit, "ABUSEIPDB_DAILY_LIMIT")
	setString(&c.Alerts.WebhookURL, "ALERT_WEBHOOK_URL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setSeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func setHours(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Hour
		}
	}
}

// applyDefaults sets default values for unset configuration fields
func (c *Config) applyDefaults() {
	// DNS defaults
	if c.DNS.Host == "" {
		c.DNS.Host = "0.0.0.0"
	}
	if c.DNS.Port == 0 {
		c.DNS.Port = 53
	}
	if !c.DNS.TCPEnabled && !c.DNS.UDPEnabled {
		c.DNS.TCPEnabled = true
		c.DNS.UDPEnabled = true
	}
	if c.DNS.SinkholeIP == "" {
		c.DNS.SinkholeIP = "0.0.0.0"
	}
	if c.DNS.SinkholeTTL == 0 {
		c.DNS.SinkholeTTL = 300
	}

	// Upstream defaults
	if c.Upstream.DoHURL == "" {
		c.Upstream.DoHURL = "https://cloudflare-dns.com/dns-query"
	}
	if c.Upstream.FallbackIP == "" {
		c.Upstream.FallbackIP = "1.1.1.1"
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = 5 * time.Second
	}

	// Cache defaults
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 10000
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = 300 * time.Second
	}

	// Blocklist defaults
	if c.Blocklist.UpdateInterval == 0 {
		c.Blocklist.UpdateInterval = 24 * time.Hour
	}

	// Stats defaults
	if c.Stats.FlushInterval == 0 {
		c.Stats.FlushInterval = 300 * time.Second
	}
	if c.Stats.TopDomains == 0 {
		c.Stats.TopDomains = 10
	}

	// Threat defaults
	if c.Threat.ExpiryDays == 0 {
		c.Threat.ExpiryDays = 30
	}
	if c.Threat.SyncInterval == 0 {
		c.Threat.SyncInterval = 6 * time.Hour
	}
	if c.Threat.FeedTimeout == 0 {
		c.Threat.FeedTimeout = 2 * time.Minute
	}

	// Reputation defaults
	if c.Reputation.DailyLimit == 0 {
		c.Reputation.DailyLimit = 1000
	}
	if c.Reputation.CacheTTL == 0 {
		c.Reputation.CacheTTL = 1 * time.Hour
	}

	// Firewall defaults
	if c.Firewall.ThreatScoreMin == 0 {
		c.Firewall.ThreatScoreMin = 0.7
	}
	if c.Firewall.SyncInterval == 0 {
		c.Firewall.SyncInterval = 1 * time.Hour
	}

	// Alert defaults
	if c.Alerts.MassThreshold == 0 {
		c.Alerts.MassThreshold = 10
	}
	if c.Alerts.MinSeverity == "" {
		c.Alerts.MinSeverity = "info"
	}
	if c.Alerts.WebhookTimeout == 0 {
		c.Alerts.WebhookTimeout = 10 * time.Second
	}

	// Storage defaults
	if c.Storage.DatabaseURL == "" {
		c.Storage.DatabaseURL = "./netwarden.db"
	}
	if c.Storage.BusyTimeout == 0 {
		c.Storage.BusyTimeout = 5000
	}
	if c.Storage.CacheSize == 0 {
		c.Storage.CacheSize = 2000 // KB
	}

	// API defaults
	if c.API.ListenAddress == "" {
		c.API.ListenAddress = ":8080"
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	// Telemetry defaults
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "netwarden"
	}
	if c.Telemetry.ServiceVersion == "" {
		c.Telemetry.ServiceVersion = "dev"
	}
	if c.Telemetry.PrometheusPort == 0 {
		c.Telemetry.PrometheusPort = 9090
	}

	if c.PIDFile == "" {
		c.PIDFile = "/var/run/netwarden.pid"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DNS.Port <= 0 || c.DNS.Port > 65535 {
		return fmt.Errorf("dns.port out of range: %d", c.DNS.Port)
	}
	if !c.DNS.TCPEnabled && !c.DNS.UDPEnabled {
		return fmt.Errorf("at least one of TCP or UDP must be enabled")
	}
	if net.ParseIP(c.DNS.SinkholeIP) == nil {
		return fmt.Errorf("invalid sinkhole IP: %s", c.DNS.SinkholeIP)
	}
	if net.ParseIP(c.Upstream.FallbackIP) == nil {
		return fmt.Errorf("invalid upstream fallback IP: %s", c.Upstream.FallbackIP)
	}

	for _, src := range c.Blocklist.Sources {
		if src.Format != "hosts" && src.Format != "domains" {
			return fmt.Errorf("blocklist source %q: unknown format %q", src.Name, src.Format)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid logging format: %s (must be json or text)", c.Logging.Format)
	}
	validOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid logging output: %s (must be stdout, stderr, or file)", c.Logging.Output)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path must be set when output is 'file'")
	}

	validSeverities := map[string]bool{"info": true, "warning": true, "critical": true}
	if !validSeverities[c.Alerts.MinSeverity] {
		return fmt.Errorf("invalid alerts.min_severity: %s", c.Alerts.MinSeverity)
	}

	return nil
}
