package blocklist

import "strings"

// nameKeywords maps substrings of a source name to a category.
// Checked before domain keywords.
var nameKeywords = []struct {
	keyword  string
	category string
}{
	{"ads", "advertising"},
	{"adserver", "advertising"},
	{"advert", "advertising"},
	{"track", "analytics"},
	{"analytic", "analytics"},
	{"telemetry", "analytics"},
	{"malware", "malware"},
	{"phish", "phishing"},
	{"crypto", "cryptomining"},
	{"mining", "cryptomining"},
	{"porn", "adult"},
	{"adult", "adult"},
	{"social", "social"},
}

// domainKeywords maps substrings of the domain itself to a category
var domainKeywords = []struct {
	keyword  string
	category string
}{
	{"ads.", "advertising"},
	{"ad.", "advertising"},
	{"adserv", "advertising"},
	{"doubleclick", "advertising"},
	{"banner", "advertising"},
	{"track", "analytics"},
	{"analytics", "analytics"},
	{"metric", "analytics"},
	{"telemetry", "analytics"},
	{"pixel", "analytics"},
	{"stat.", "analytics"},
	{"malware", "malware"},
	{"phish", "phishing"},
	{"miner", "cryptomining"},
}

// Categorize derives a category for a domain: source-name keywords first,
// then domain-substring keywords, then the source's declared category.
func Categorize(domain, sourceName, declared string) string {
	name := strings.ToLower(sourceName)
	for _, kw := range nameKeywords {
		if strings.Contains(name, kw.keyword) {
			return kw.category
		}
	}

	d := strings.ToLower(domain)
	for _, kw := range domainKeywords {
		if strings.Contains(d, kw.keyword) {
			return kw.category
		}
	}

	if declared != "" {
		return declared
	}
	return "other"
}
