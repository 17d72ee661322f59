package blocklist

import (
	"strings"
	"testing"
)

func TestParseHostsFormat(t *testing.T) {
	input := `# comment line
0.0.0.0 ads.example.com
127.0.0.1 tracker.example.net
:: ipv6-sink.example.org
! adblock style comment
192.0.2.1 not-a-sink.example.com

0.0.0.0 ads.example.com
`
	domains, err := Parse(strings.NewReader(input), FormatHosts)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	want := map[string]bool{
		"ads.example.com":      true,
		"tracker.example.net":  true,
		"ipv6-sink.example.org": true,
	}
	if len(domains) != len(want) {
		t.Fatalf("Parse() returned %d domains, want %d: %v", len(domains), len(want), domains)
	}
	for _, d := range domains {
		if !want[d] {
			t.Errorf("unexpected domain %q", d)
		}
	}
}

func TestParseHostsSkipsNonSinkIPs(t *testing.T) {
	input := "192.0.2.1 real-host.example.com\n"
	domains, err := Parse(strings.NewReader(input), FormatHosts)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(domains) != 0 {
		t.Errorf("hosts lines with non-sink IPs must be skipped, got %v", domains)
	}
}

func TestParseDomainsFormat(t *testing.T) {
	input := `ads.example.com
Tracker.Example.NET.
# comment
bad.example.org extra-field
`
	domains, err := Parse(strings.NewReader(input), FormatDomains)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	want := map[string]bool{
		"ads.example.com":     true,
		"tracker.example.net": true,
	}
	if len(domains) != len(want) {
		t.Fatalf("Parse() returned %v, want keys of %v", domains, want)
	}
}

func TestParseNeverBlocksInfrastructureNames(t *testing.T) {
	input := `0.0.0.0 localhost
0.0.0.0 localhost.localdomain
0.0.0.0 broadcasthost
0.0.0.0 ip6-localhost
0.0.0.0 ip6-loopback
0.0.0.0 real-ad-server.example.com
`
	domains, err := Parse(strings.NewReader(input), FormatHosts)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(domains) != 1 || domains[0] != "real-ad-server.example.com" {
		t.Errorf("never-block names leaked into the parse result: %v", domains)
	}
}

func TestParseUnknownFormat(t *testing.T) {
	if _, err := Parse(strings.NewReader("x"), "csv"); err == nil {
		t.Error("Parse() should reject unknown formats")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Example.COM", "example.com"},
		{"example.com.", "example.com"},
		{"  spaced.example.com  ", "spaced.example.com"},
		{"already.lower.net", "already.lower.net"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		domain   string
		source   string
		declared string
		want     string
	}{
		{"source name wins", "x.example.com", "StevenBlack ads", "", "advertising"},
		{"domain keyword", "metrics.example.com", "mylist", "", "analytics"},
		{"declared fallback", "plain.example.com", "mylist", "malware", "malware"},
		{"default", "plain.example.com", "mylist", "", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.domain, tt.source, tt.declared); got != tt.want {
				t.Errorf("Categorize() = %q, want %q", got, tt.want)
			}
		})
	}
}
