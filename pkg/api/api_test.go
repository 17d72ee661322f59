package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netwarden/pkg/alert"
	"netwarden/pkg/config"
	"netwarden/pkg/firewall"
	"netwarden/pkg/guardian"
	"netwarden/pkg/logging"
	"netwarden/pkg/reputation"
	"netwarden/pkg/storage"
	"netwarden/pkg/threat"
)

// apiStore stubs the persistence surface the handlers reach. Methods not
// overridden panic through the embedded nil interface, which no test path
// triggers.
type apiStore struct {
	storage.Store

	customRules   map[string]*storage.CustomRule
	firewallRules map[string]*storage.FirewallRule
	indicator     *storage.ThreatIndicator
	feeds         []*storage.ThreatFeed
	events        []*storage.FirewallEvent
}

func newAPIStore() *apiStore {
	return &apiStore{
		customRules:   make(map[string]*storage.CustomRule),
		firewallRules: make(map[string]*storage.FirewallRule),
	}
}

func (s *apiStore) TopBlockedDomains(ctx context.Context, limit int) ([]*storage.TopDomain, error) {
	return nil, nil
}

func (s *apiStore) ListBlocklists(ctx context.Context) ([]*storage.Blocklist, error) {
	return nil, nil
}

func (s *apiStore) InsertCustomRule(ctx context.Context, rule *storage.CustomRule) error {
	copied := *rule
	s.customRules[rule.ID] = &copied
	return nil
}

func (s *apiStore) DeactivateCustomRule(ctx context.Context, id string) error {
	rule, ok := s.customRules[id]
	if !ok {
		return storage.ErrNotFound
	}
	rule.IsActive = false
	return nil
}

func (s *apiStore) ListCustomRules(ctx context.Context, activeOnly bool) ([]*storage.CustomRule, error) {
	var out []*storage.CustomRule
	for _, rule := range s.customRules {
		if activeOnly && !rule.IsActive {
			continue
		}
		copied := *rule
		out = append(out, &copied)
	}
	return out, nil
}

func (s *apiStore) ListThreatFeeds(ctx context.Context) ([]*storage.ThreatFeed, error) {
	return s.feeds, nil
}

func (s *apiStore) ThreatStats(ctx context.Context) (*storage.ThreatStats, error) {
	return &storage.ThreatStats{}, nil
}

func (s *apiStore) GetIndicatorByHash(ctx context.Context, hash string) (*storage.ThreatIndicator, error) {
	if s.indicator == nil {
		return nil, storage.ErrNotFound
	}
	return s.indicator, nil
}

func (s *apiStore) InsertFirewallRule(ctx context.Context, rule *storage.FirewallRule) error {
	copied := *rule
	s.firewallRules[rule.ID] = &copied
	return nil
}

func (s *apiStore) GetFirewallRule(ctx context.Context, id string) (*storage.FirewallRule, error) {
	rule, ok := s.firewallRules[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *rule
	return &copied, nil
}

func (s *apiStore) DeleteFirewallRule(ctx context.Context, id string) error {
	if _, ok := s.firewallRules[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.firewallRules, id)
	return nil
}

func (s *apiStore) SetFirewallRuleActive(ctx context.Context, id string, active bool) error {
	rule, ok := s.firewallRules[id]
	if !ok {
		return storage.ErrNotFound
	}
	rule.IsActive = active
	return nil
}

func (s *apiStore) ListFirewallRules(ctx context.Context, activeOnly bool) ([]*storage.FirewallRule, error) {
	var out []*storage.FirewallRule
	for _, rule := range s.firewallRules {
		if activeOnly && !rule.IsActive {
			continue
		}
		copied := *rule
		out = append(out, &copied)
	}
	return out, nil
}

func (s *apiStore) FirewallRuleExists(ctx context.Context, ruleType, target string) (bool, error) {
	for _, rule := range s.firewallRules {
		if rule.Type == ruleType && rule.Target == target {
			return true, nil
		}
	}
	return false, nil
}

func (s *apiStore) InsertFirewallEvent(ctx context.Context, event *storage.FirewallEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *apiStore) ListFirewallEvents(ctx context.Context, limit int) ([]*storage.FirewallEvent, error) {
	if len(s.events) > limit {
		return s.events[:limit], nil
	}
	return s.events, nil
}

func (s *apiStore) DailyFirewallStats(ctx context.Context, days int) ([]*storage.DailyFirewallStat, error) {
	return nil, nil
}

type nopAdapter struct{}

func (nopAdapter) Install() error   { return nil }
func (nopAdapter) Uninstall() error { return nil }
func (nopAdapter) ApplyRules(rules []*storage.FirewallRule) error {
	return nil
}
func (nopAdapter) Status() (*firewall.Status, error) {
	return &firewall.Status{Engine: "test", Platform: "test", Installed: true}, nil
}
func (nopAdapter) PlatformName() string { return "test" }

func testServer(t *testing.T) (*Server, *apiStore) {
	t.Helper()

	cfg := config.LoadWithDefaults()
	logger, err := logging.New(&config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"})
	require.NoError(t, err)

	store := newAPIStore()
	daemon, err := guardian.New(cfg, store, nil, logger)
	require.NoError(t, err)

	srv := New(&Deps{
		Config:     cfg,
		Store:      store,
		Daemon:     daemon,
		Ingestor:   threat.NewIngestor(&cfg.Threat, store, nil, nil, logger),
		Reputation: reputation.NewClient(&cfg.Reputation, logger),
		Firewall:   firewall.NewService(&cfg.Firewall, store, nopAdapter{}, nil, logger),
		Alerts:     alert.NewPipeline(&cfg.Alerts, nil, logger),
		Logger:     logger,
		Version:    "test",
	})
	return srv, store
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGuardianStatus(t *testing.T) {
	srv, _ := testServer(t)

	rec := do(t, srv, http.MethodGet, "/api/guardian/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, false, body["dns_running"], "listeners are down until Start")
}

func TestCustomRuleLifecycle(t *testing.T) {
	srv, _ := testServer(t)

	rec := do(t, srv, http.MethodPost, "/api/guardian/rules",
		`{"action": "block", "domain": "Tracker.Example.com", "category": "ads"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode(t, rec)["id"].(string)
	require.NotEmpty(t, id)

	rec = do(t, srv, http.MethodGet, "/api/guardian/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])

	rec = do(t, srv, http.MethodDelete, "/api/guardian/rules/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/guardian/rules", "")
	assert.EqualValues(t, 0, decode(t, rec)["count"])
}

func TestAddRuleRejectsBadBody(t *testing.T) {
	srv, _ := testServer(t)

	rec := do(t, srv, http.MethodPost, "/api/guardian/rules", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/guardian/rules", `{"action": "block"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "domain is required")

	rec = do(t, srv, http.MethodPost, "/api/guardian/rules",
		`{"action": "maybe", "domain": "example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown action")
}

func TestThreatLookup(t *testing.T) {
	srv, store := testServer(t)

	rec := do(t, srv, http.MethodGet, "/api/threat/lookup/not-an-ip", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/threat/lookup/198.51.100.7", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	store.indicator = &storage.ThreatIndicator{
		SubnetHash:  "h",
		ThreatScore: 0.725,
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}
	rec = do(t, srv, http.MethodGet, "/api/threat/lookup/198.51.100.7", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	indicator := body["indicator"].(map[string]interface{})
	assert.InDelta(t, 0.725, indicator["threat_score"].(float64), 0.0001)
	assert.NotContains(t, body, "reputation", "no provider key configured")
}

func TestThreatSyncUnknownFeed(t *testing.T) {
	srv, _ := testServer(t)

	rec := do(t, srv, http.MethodPost, "/api/threat/feeds/nonexistent/sync", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFirewallRuleLifecycle(t *testing.T) {
	srv, _ := testServer(t)

	rec := do(t, srv, http.MethodPost, "/api/firewall/rules",
		`{"type": "block_ip", "target": "198.51.100.7", "direction": "inbound", "protocol": "any"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode(t, rec)
	id := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "user", created["source"])

	rec = do(t, srv, http.MethodPut, "/api/firewall/rules/"+id+"/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["is_active"])

	rec = do(t, srv, http.MethodGet, "/api/firewall/rules", "")
	assert.EqualValues(t, 0, decode(t, rec)["count"], "active-only by default")

	rec = do(t, srv, http.MethodGet, "/api/firewall/rules?all=1", "")
	assert.EqualValues(t, 1, decode(t, rec)["count"])

	rec = do(t, srv, http.MethodDelete, "/api/firewall/rules/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFirewallAddRuleBadExpiry(t *testing.T) {
	srv, _ := testServer(t)

	rec := do(t, srv, http.MethodPost, "/api/firewall/rules",
		`{"type": "block_ip", "target": "198.51.100.7", "expires_at": "tomorrow"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFirewallConfig(t *testing.T) {
	srv, _ := testServer(t)

	rec := do(t, srv, http.MethodGet, "/api/firewall/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	before := decode(t, rec)["threat_score_min"].(float64)

	rec = do(t, srv, http.MethodPut, "/api/firewall/config", `{"threat_score_min": 0.9}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0.9, decode(t, rec)["threat_score_min"].(float64), 0.0001)
	assert.NotEqual(t, before, 0.9)

	rec = do(t, srv, http.MethodPut, "/api/firewall/config", `{"threat_score_min": 1.5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFirewallStatus(t *testing.T) {
	srv, _ := testServer(t)

	rec := do(t, srv, http.MethodGet, "/api/firewall/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", decode(t, rec)["engine"])
}

func TestAlertSnapshotFlow(t *testing.T) {
	srv, _ := testServer(t)

	rec := do(t, srv, http.MethodPost, "/api/alerts/snapshot",
		`{"assets": [{"ip": "192.168.1.10", "mac": "aa:bb:cc:00:00:01"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["alert_count"], "first snapshot is the baseline")

	rec = do(t, srv, http.MethodPost, "/api/alerts/snapshot",
		`{"assets": [
			{"ip": "192.168.1.10", "mac": "aa:bb:cc:00:00:01"},
			{"ip": "192.168.1.20", "mac": "aa:bb:cc:00:00:02"}
		]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["alert_count"])

	rec = do(t, srv, http.MethodGet, "/api/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])
}

func TestCORSHeaders(t *testing.T) {
	srv, _ := testServer(t)

	rec := do(t, srv, http.MethodOptions, "/api/guardian/status", "")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
