// Package blocklist maintains the merged view of downloaded blocklist
// sources and answers domain lookups with parent-domain fallback.
package blocklist

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Wire formats accepted from blocklist sources.
const (
	FormatHosts   = "hosts"
	FormatDomains = "domains"
)

// sinkIPs are the well-known sink addresses accepted in hosts-format lines.
var sinkIPs = map[string]struct{}{
	"0.0.0.0":   {},
	"127.0.0.1": {},
	"::":        {},
	"::1":       {},
}

// neverBlock are names forbidden from appearing in any blocklist even when
// present in the source file.
var neverBlock = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"local":                 {},
	"broadcasthost":         {},
	"ip6-localhost":         {},
	"ip6-loopback":          {},
}

// Parse reads a blocklist body in the given format and returns the
// normalised domain set. Lines that are empty or start with '#' or '!'
// are skipped; members of the never-block set are dropped.
func Parse(r io.Reader, format string) ([]string, error) {
	var extract func(line string) string

	switch format {
	case FormatHosts:
		extract = extractHosts
	case FormatDomains:
		extract = extractDomain
	default:
		return nil, fmt.Errorf("unknown blocklist format %q", format)
	}

	seen := make(map[string]struct{})
	var domains []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}

		domain := extract(line)
		if domain == "" {
			continue
		}

		domain = Normalize(domain)
		if _, forbidden := neverBlock[domain]; forbidden {
			continue
		}
		if _, dup := seen[domain]; dup {
			continue
		}
		seen[domain] = struct{}{}
		domains = append(domains, domain)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading blocklist: %w", err)
	}
	return domains, nil
}

// extractHosts handles "0.0.0.0 domain.com" lines; the first field must be
// one of the sink IPs.
func extractHosts(line string) string {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return ""
	}
	if _, ok := sinkIPs[fields[0]]; !ok {
		return ""
	}
	return fields[1]
}

// extractDomain handles plain one-domain-per-line lists
func extractDomain(line string) string {
	fields := strings.Fields(line)
	if len(fields) != 1 {
		return ""
	}
	return fields[0]
}

// Normalize lowercases a name and strips the trailing dot
func Normalize(domain string) string {
	return strings.TrimSuffix(strings.ToLower(domain), ".")
}
