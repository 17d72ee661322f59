package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yml")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DNS.Port != 53 {
		t.Errorf("default DNS port = %d, want 53", cfg.DNS.Port)
	}
	if cfg.Upstream.DoHURL == "" {
		t.Error("default DoH URL missing")
	}
	if cfg.Firewall.ThreatScoreMin != 0.7 {
		t.Errorf("default threat score floor = %v, want 0.7", cfg.Firewall.ThreatScoreMin)
	}
	if cfg.Alerts.MassThreshold != 10 {
		t.Errorf("default mass threshold = %d, want 10", cfg.Alerts.MassThreshold)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := writeConfig(t, `
dns:
  host: 127.0.0.1
  port: 5353
  sinkhole_ip: 0.0.0.1
threat:
  expiry_days: 14
  sync_interval: 12h
alerts:
  mass_threshold: 5
  rules:
    - name: banned vendor
      mac_prefix: "DE:AD:BE"
      severity: critical
firewall:
  enabled: true
  threat_score_min: 0.8
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DNS.Host != "127.0.0.1" || cfg.DNS.Port != 5353 {
		t.Errorf("dns = %+v", cfg.DNS)
	}
	if cfg.Threat.ExpiryDays != 14 || cfg.Threat.SyncInterval != 12*time.Hour {
		t.Errorf("threat = %+v", cfg.Threat)
	}
	if len(cfg.Alerts.Rules) != 1 || cfg.Alerts.Rules[0].MACPrefix != "DE:AD:BE" {
		t.Errorf("alert rules = %+v", cfg.Alerts.Rules)
	}
	if !cfg.Firewall.Enabled || cfg.Firewall.ThreatScoreMin != 0.8 {
		t.Errorf("firewall = %+v", cfg.Firewall)
	}
	// Unset fields still pick up defaults
	if cfg.Cache.MaxEntries != 10000 {
		t.Errorf("cache default missing, got %d", cfg.Cache.MaxEntries)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "dns: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Error("Load() should fail on malformed YAML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GUARDIAN_DNS_PORT", "1053")
	t.Setenv("THREAT_HMAC_KEY", "supersecret")
	t.Setenv("ABUSEIPDB_DAILY_LIMIT", "250")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DNS.Port != 1053 {
		t.Errorf("env port override ignored, got %d", cfg.DNS.Port)
	}
	if cfg.Threat.HMACKey != "supersecret" {
		t.Errorf("env HMAC key override ignored")
	}
	if cfg.Reputation.DailyLimit != 250 {
		t.Errorf("env daily limit override ignored, got %d", cfg.Reputation.DailyLimit)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad dns port", func(c *Config) { c.DNS.Port = 70000 }},
		{"no listeners", func(c *Config) { c.DNS.TCPEnabled = false; c.DNS.UDPEnabled = false }},
		{"bad sinkhole ip", func(c *Config) { c.DNS.SinkholeIP = "not-an-ip" }},
		{"bad fallback ip", func(c *Config) { c.Upstream.FallbackIP = "nope" }},
		{"bad blocklist format", func(c *Config) {
			c.Blocklist.Sources = []BlocklistSource{{Name: "x", URL: "u", Format: "csv"}}
		}},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"file output without path", func(c *Config) { c.Logging.Output = "file" }},
		{"bad alert severity", func(c *Config) { c.Alerts.MinSeverity = "panic" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := LoadWithDefaults()
			cfg.DNS.TCPEnabled = true
			cfg.DNS.UDPEnabled = true
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() accepted %s", tc.name)
			}
		})
	}
}

func TestListenAddress(t *testing.T) {
	c := DNSConfig{Host: "0.0.0.0", Port: 53}
	if got := c.ListenAddress(); got != "0.0.0.0:53" {
		t.Errorf("ListenAddress() = %q", got)
	}
}
