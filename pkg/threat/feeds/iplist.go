package feeds

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// cidrExpandCap bounds the number of indicators a single fetch may emit
// when expanding CIDR entries.
const cidrExpandCap = 500000

// IPListFeed parses plain-text feeds with one IPv4 or CIDR per line
// (CINS Army list, FireHOL level 1, and similar).
type IPListFeed struct {
	name          string
	url           string
	indicatorType string
}

// NewIPListFeed creates a plain IP list parser
func NewIPListFeed(name, url, indicatorType string) *IPListFeed {
	return &IPListFeed{name: name, url: url, indicatorType: indicatorType}
}

func (f *IPListFeed) Name() string     { return f.name }
func (f *IPListFeed) URL() string      { return f.url }
func (f *IPListFeed) FeedType() string { return "ip_list" }

// Fetch downloads the list. CIDR entries with prefix <= 24 contribute
// their network address as a representative; longer prefixes are
// expanded host by host, capped to bound memory.
func (f *IPListFeed) Fetch(ctx context.Context, client *http.Client) ([]Indicator, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var out []Indicator
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if len(out) >= cidrExpandCap {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.Contains(line, "/") {
			out = f.appendCIDR(out, line)
			continue
		}
		if net.ParseIP(line) != nil {
			out = append(out, Indicator{IP: line, Type: f.indicatorType, SourceFeed: f.name})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}
	return out, nil
}

func (f *IPListFeed) appendCIDR(out []Indicator, entry string) []Indicator {
	ip, ipNet, err := net.ParseCIDR(entry)
	if err != nil || ip.To4() == nil {
		return out
	}

	ones, _ := ipNet.Mask.Size()
	if ones <= 24 {
		// The network address stands in for the whole range; the
		// ingestor aggregates to /24 anyway.
		out = append(out, Indicator{
			IP:         ipNet.IP.String(),
			Type:       f.indicatorType,
			SourceFeed: f.name,
		})
		return out
	}

	for addr := ipNet.IP.Mask(ipNet.Mask); ipNet.Contains(addr); addr = nextIP(addr) {
		if len(out) >= cidrExpandCap {
			break
		}
		out = append(out, Indicator{
			IP:         addr.String(),
			Type:       f.indicatorType,
			SourceFeed: f.name,
		})
	}
	return out
}

func nextIP(ip net.IP) net.IP {
	next := make(net.IP, len(ip))
	copy(next, ip)
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			break
		}
	}
	return next
}
