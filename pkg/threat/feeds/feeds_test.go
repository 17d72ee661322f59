package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func fetchFrom(t *testing.T, handler http.HandlerFunc, build func(url string) Parser) []Indicator {
	t.Helper()
	server := httptest.NewServer(handler)
	defer server.Close()

	parser := build(server.URL)
	out, err := parser.Fetch(context.Background(), server.Client())
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	return out
}

func TestIPListFeed(t *testing.T) {
	body := `# CINS style comment
; another comment style
198.51.100.7
203.0.113.0/24
not-an-ip

192.0.2.1
`
	out := fetchFrom(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}, func(url string) Parser {
		return NewIPListFeed("cins_badguys", url, "malicious")
	})

	want := map[string]bool{
		"198.51.100.7": true,
		"203.0.113.0":  true, // /24 collapses to its network address
		"192.0.2.1":    true,
	}
	if len(out) != len(want) {
		t.Fatalf("Fetch() returned %d indicators, want %d: %v", len(out), len(want), out)
	}
	for _, ind := range out {
		if !want[ind.IP] {
			t.Errorf("unexpected indicator %q", ind.IP)
		}
		if ind.Type != "malicious" || ind.SourceFeed != "cins_badguys" {
			t.Errorf("indicator %+v has wrong type or source", ind)
		}
	}
}

func TestIPListFeedExpandsSmallCIDR(t *testing.T) {
	out := fetchFrom(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("198.51.100.0/30\n"))
	}, func(url string) Parser {
		return NewIPListFeed("cins_badguys", url, "malicious")
	})

	// /30 expands host by host
	if len(out) != 4 {
		t.Fatalf("/30 should expand to 4 addresses, got %d: %v", len(out), out)
	}
}

func TestIPListFeedHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	parser := NewIPListFeed("cins_badguys", server.URL, "malicious")
	if _, err := parser.Fetch(context.Background(), server.Client()); err == nil {
		t.Error("Fetch() should fail on non-2xx status")
	}
}

func TestThreatFoxFeed(t *testing.T) {
	body := `{
		"query_status": "ok",
		"data": [
			{"ioc": "198.51.100.7:4444", "ioc_type": "ip:port", "threat_type": "botnet_cc"},
			{"ioc": "http://203.0.113.9/payload.bin", "ioc_type": "url", "threat_type": "payload_delivery"},
			{"ioc": "192.0.2.33", "ioc_type": "ip", "threat_type": ""},
			{"ioc": "http://malware.example.com/x", "ioc_type": "url", "threat_type": "payload_delivery"}
		]
	}`
	out := fetchFrom(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("ThreatFox query must POST, got %s", r.Method)
		}
		w.Write([]byte(body))
	}, func(url string) Parser {
		return NewThreatFoxFeed(url, 1)
	})

	if len(out) != 3 {
		t.Fatalf("Fetch() returned %d indicators, want 3 (hostname IOCs dropped): %v", len(out), out)
	}

	byIP := map[string]string{}
	for _, ind := range out {
		byIP[ind.IP] = ind.Type
	}
	if byIP["198.51.100.7"] != "c2" {
		t.Errorf("botnet_cc should classify as c2, got %q", byIP["198.51.100.7"])
	}
	if byIP["203.0.113.9"] != "malware" {
		t.Errorf("payload_delivery should classify as malware, got %q", byIP["203.0.113.9"])
	}
	if byIP["192.0.2.33"] != "malicious" {
		t.Errorf("empty threat type should default to malicious, got %q", byIP["192.0.2.33"])
	}
}

func TestURLhausFeedKeepsOnlyNumericHosts(t *testing.T) {
	body := `{
		"query_status": "ok",
		"urls": [
			{"url": "http://198.51.100.7/mal.exe", "threat": "malware_download"},
			{"url": "http://198.51.100.7:8080/other.exe", "threat": "malware_download"},
			{"url": "http://evil.example.com/mal.exe", "threat": "malware_download"}
		]
	}`
	out := fetchFrom(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}, func(url string) Parser {
		return NewURLhausFeed(url)
	})

	if len(out) != 1 {
		t.Fatalf("Fetch() returned %d indicators, want 1 (deduped, hostname dropped): %v", len(out), out)
	}
	if out[0].IP != "198.51.100.7" || out[0].Type != "malware" {
		t.Errorf("unexpected indicator %+v", out[0])
	}
}

func TestOTXFeedWithoutKey(t *testing.T) {
	parser := NewOTXFeed("https://otx.example.com", "")
	_, err := parser.Fetch(context.Background(), http.DefaultClient)
	if err != ErrNoAPIKey {
		t.Errorf("Fetch() without key = %v, want ErrNoAPIKey", err)
	}
}

func TestOTXFeedParsesPulses(t *testing.T) {
	body := `{
		"results": [
			{
				"name": "botnet wave",
				"tags": ["Botnet", "iot"],
				"indicators": [
					{"indicator": "198.51.100.7", "type": "IPv4"},
					{"indicator": "evil.example.com", "type": "domain"}
				]
			}
		]
	}`
	out := fetchFrom(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-OTX-API-KEY") != "k" {
			t.Error("missing API key header")
		}
		w.Write([]byte(body))
	}, func(url string) Parser {
		return NewOTXFeed(url, "k")
	})

	if len(out) != 1 {
		t.Fatalf("Fetch() returned %d indicators, want 1 (non-IPv4 dropped): %v", len(out), out)
	}
	if out[0].Type != "botnet" {
		t.Errorf("pulse tags should classify as botnet, got %q", out[0].Type)
	}
}

func TestAbuseIPDBFeedFiltersConfidence(t *testing.T) {
	body := `{
		"data": [
			{"ipAddress": "198.51.100.7", "abuseConfidenceScore": 100},
			{"ipAddress": "203.0.113.9", "abuseConfidenceScore": 50}
		]
	}`
	out := fetchFrom(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Key") != "k" {
			t.Error("missing Key header")
		}
		w.Write([]byte(body))
	}, func(url string) Parser {
		return NewAbuseIPDBFeed(url, "k", 90)
	})

	if len(out) != 1 || out[0].IP != "198.51.100.7" {
		t.Fatalf("confidence floor not applied: %v", out)
	}
}
