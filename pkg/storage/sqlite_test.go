package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"netwarden/pkg/config"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(&config.StorageConfig{
		DatabaseURL: filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout: 5000,
		CacheSize:   2000,
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSQLiteStoreNilConfig(t *testing.T) {
	if _, err := NewSQLiteStore(nil); err == nil {
		t.Fatal("NewSQLiteStore(nil) should fail")
	}
}

func TestBlocklistRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	id, err := store.UpsertBlocklist(ctx, &Blocklist{
		Name: "stevenblack", URL: "https://example.com/hosts", Format: "hosts",
		Category: "ads", IsEnabled: true, LastUpdated: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("UpsertBlocklist() error: %v", err)
	}

	domains := []BlockedDomain{
		{Domain: "ads.example.com", BlocklistID: id, Category: "ads"},
		{Domain: "tracker.example.com", BlocklistID: id, Category: "ads"},
	}
	if err := store.ReplaceBlockedDomains(ctx, id, domains); err != nil {
		t.Fatalf("ReplaceBlockedDomains() error: %v", err)
	}

	loaded, err := store.LoadBlockedDomains(ctx)
	if err != nil {
		t.Fatalf("LoadBlockedDomains() error: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("loaded %d domains, want 2", len(loaded))
	}

	// Replace drops the old set entirely
	if err := store.ReplaceBlockedDomains(ctx, id, domains[:1]); err != nil {
		t.Fatalf("ReplaceBlockedDomains() error: %v", err)
	}
	loaded, _ = store.LoadBlockedDomains(ctx)
	if len(loaded) != 1 {
		t.Errorf("after replace loaded %d domains, want 1", len(loaded))
	}

	lists, err := store.ListBlocklists(ctx)
	if err != nil {
		t.Fatalf("ListBlocklists() error: %v", err)
	}
	if len(lists) != 1 || lists[0].DomainCount != 1 {
		t.Errorf("blocklist row = %+v", lists[0])
	}
}

func TestUpsertBlocklistIsIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	first, err := store.UpsertBlocklist(ctx, &Blocklist{Name: "x", URL: "u1", Format: "hosts"})
	if err != nil {
		t.Fatalf("UpsertBlocklist() error: %v", err)
	}
	second, err := store.UpsertBlocklist(ctx, &Blocklist{Name: "x", URL: "u2", Format: "hosts"})
	if err != nil {
		t.Fatalf("UpsertBlocklist() error: %v", err)
	}
	if first != second {
		t.Errorf("upsert by name should keep the id: %d vs %d", first, second)
	}
}

func TestCustomRuleLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	rule := &CustomRule{
		ID: "r1", Action: "block", Domain: "example.com",
		IsActive: true, CreatedAt: time.Now().UTC(),
	}
	if err := store.InsertCustomRule(ctx, rule); err != nil {
		t.Fatalf("InsertCustomRule() error: %v", err)
	}

	if err := store.IncrementRuleHit(ctx, "r1"); err != nil {
		t.Fatalf("IncrementRuleHit() error: %v", err)
	}

	rules, err := store.ListCustomRules(ctx, true)
	if err != nil {
		t.Fatalf("ListCustomRules() error: %v", err)
	}
	if len(rules) != 1 || rules[0].HitCount != 1 {
		t.Errorf("rules = %+v", rules)
	}

	if err := store.DeactivateCustomRule(ctx, "r1"); err != nil {
		t.Fatalf("DeactivateCustomRule() error: %v", err)
	}
	rules, _ = store.ListCustomRules(ctx, true)
	if len(rules) != 0 {
		t.Errorf("deactivated rule still listed as active")
	}
	rules, _ = store.ListCustomRules(ctx, false)
	if len(rules) != 1 {
		t.Errorf("soft delete should keep the row")
	}

	if err := store.DeactivateCustomRule(ctx, "missing"); err != ErrNotFound {
		t.Errorf("DeactivateCustomRule(missing) = %v, want ErrNotFound", err)
	}
}

func TestQueryStatsAccumulate(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.AddQueryStats(ctx, "2026-08-24", 10, 100, 20, 80, 30); err != nil {
		t.Fatalf("AddQueryStats() error: %v", err)
	}
	// Same (date, hour) accumulates
	if err := store.AddQueryStats(ctx, "2026-08-24", 10, 50, 10, 40, 15); err != nil {
		t.Fatalf("AddQueryStats() error: %v", err)
	}

	stats, err := store.GetQueryStats(ctx, "2026-08-24")
	if err != nil {
		t.Fatalf("GetQueryStats() error: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("got %d rows, want 1", len(stats))
	}
	row := stats[0]
	if row.TotalQueries != 150 || row.BlockedQueries != 30 || row.CacheHits != 45 {
		t.Errorf("accumulated row = %+v", row)
	}
}

func TestTopDomainsOrdering(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = store.AddTopDomain(ctx, "light.example.com", "ads", 1, now)
	_ = store.AddTopDomain(ctx, "heavy.example.com", "ads", 5, now)
	_ = store.AddTopDomain(ctx, "heavy.example.com", "ads", 5, now)

	top, err := store.TopBlockedDomains(ctx, 10)
	if err != nil {
		t.Fatalf("TopBlockedDomains() error: %v", err)
	}
	if len(top) != 2 || top[0].Domain != "heavy.example.com" || top[0].BlockCount != 10 {
		t.Errorf("top domains = %+v", top)
	}
}

func TestThreatIndicatorRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	ind := &ThreatIndicator{
		SubnetHash:     "abc123",
		SubnetPrefix:   "192.168.50.0/24",
		ThreatScore:    0.725,
		SourceFeeds:    []string{"cins_badguys"},
		IndicatorTypes: []string{"malicious"},
		FirstSeen:      now,
		LastSeen:       now,
		ReportCount:    1,
		ExpiresAt:      now.Add(7 * 24 * time.Hour),
	}
	if err := store.SaveIndicators(ctx, []*ThreatIndicator{ind}); err != nil {
		t.Fatalf("SaveIndicators() error: %v", err)
	}

	got, err := store.GetIndicatorByHash(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetIndicatorByHash() error: %v", err)
	}
	if got.SubnetPrefix != "192.168.50.0/24" || got.ThreatScore != 0.725 || got.ReportCount != 1 {
		t.Errorf("indicator = %+v", got)
	}
	if len(got.SourceFeeds) != 1 || got.SourceFeeds[0] != "cins_badguys" {
		t.Errorf("source feeds = %v", got.SourceFeeds)
	}

	// Upsert by hash updates in place
	ind.ThreatScore = 0.85
	ind.ReportCount = 2
	if err := store.SaveIndicators(ctx, []*ThreatIndicator{ind}); err != nil {
		t.Fatalf("SaveIndicators() error: %v", err)
	}
	got, _ = store.GetIndicatorByHash(ctx, "abc123")
	if got.ThreatScore != 0.85 || got.ReportCount != 2 {
		t.Errorf("updated indicator = %+v", got)
	}

	if _, err := store.GetIndicatorByHash(ctx, "missing"); err != ErrNotFound {
		t.Errorf("GetIndicatorByHash(missing) = %v, want ErrNotFound", err)
	}
}

func TestDeleteExpiredIndicators(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	indicators := []*ThreatIndicator{
		{SubnetHash: "old", ThreatScore: 0.5, FirstSeen: now, LastSeen: now, ReportCount: 1, ExpiresAt: now.Add(-time.Hour)},
		{SubnetHash: "new", ThreatScore: 0.5, FirstSeen: now, LastSeen: now, ReportCount: 1, ExpiresAt: now.Add(time.Hour)},
	}
	if err := store.SaveIndicators(ctx, indicators); err != nil {
		t.Fatalf("SaveIndicators() error: %v", err)
	}

	deleted, err := store.DeleteExpiredIndicators(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpiredIndicators() error: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted %d rows, want 1", deleted)
	}
	if _, err := store.GetIndicatorByHash(ctx, "new"); err != nil {
		t.Errorf("unexpired indicator swept: %v", err)
	}
}

func TestHighScoreIndicators(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	future := now.Add(24 * time.Hour)

	indicators := []*ThreatIndicator{
		{SubnetHash: "hi", ThreatScore: 0.9, FirstSeen: now, LastSeen: now, ReportCount: 1, ExpiresAt: future},
		{SubnetHash: "lo", ThreatScore: 0.3, FirstSeen: now, LastSeen: now, ReportCount: 1, ExpiresAt: future},
		{SubnetHash: "expired", ThreatScore: 0.9, FirstSeen: now, LastSeen: now, ReportCount: 1, ExpiresAt: now.Add(-time.Hour)},
	}
	if err := store.SaveIndicators(ctx, indicators); err != nil {
		t.Fatalf("SaveIndicators() error: %v", err)
	}

	high, err := store.HighScoreIndicators(ctx, 0.7, now)
	if err != nil {
		t.Fatalf("HighScoreIndicators() error: %v", err)
	}
	if len(high) != 1 || high[0].SubnetHash != "hi" {
		t.Errorf("high-score set = %+v", high)
	}
}

func TestThreatFeedSyncBookkeeping(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.UpsertThreatFeed(ctx, &ThreatFeed{
		Name: "cins_badguys", FeedURL: "https://example.com/list", FeedType: "ip_list", Enabled: true,
	}); err != nil {
		t.Fatalf("UpsertThreatFeed() error: %v", err)
	}

	at := time.Now().UTC().Truncate(time.Second)
	if err := store.MarkThreatFeedSynced(ctx, "cins_badguys", at, 1234); err != nil {
		t.Fatalf("MarkThreatFeedSynced() error: %v", err)
	}

	feed, err := store.GetThreatFeed(ctx, "cins_badguys")
	if err != nil {
		t.Fatalf("GetThreatFeed() error: %v", err)
	}
	if feed.EntriesCount != 1234 || feed.LastSyncedAt == nil {
		t.Errorf("feed = %+v", feed)
	}

	if _, err := store.GetThreatFeed(ctx, "missing"); err != ErrNotFound {
		t.Errorf("GetThreatFeed(missing) = %v, want ErrNotFound", err)
	}
}

func TestFirewallRuleLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	rule := &FirewallRule{
		ID: "fw1", Type: "block_ip", Target: "198.51.100.7",
		Direction: "inbound", Protocol: "any", Source: "user",
		IsActive: true, CreatedAt: time.Now().UTC(), ExpiresAt: &expires,
	}
	if err := store.InsertFirewallRule(ctx, rule); err != nil {
		t.Fatalf("InsertFirewallRule() error: %v", err)
	}

	got, err := store.GetFirewallRule(ctx, "fw1")
	if err != nil {
		t.Fatalf("GetFirewallRule() error: %v", err)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
		t.Errorf("expiry did not round-trip: %v", got.ExpiresAt)
	}

	exists, err := store.FirewallRuleExists(ctx, "block_ip", "198.51.100.7")
	if err != nil || !exists {
		t.Errorf("FirewallRuleExists() = %v, %v", exists, err)
	}

	if err := store.SetFirewallRuleActive(ctx, "fw1", false); err != nil {
		t.Fatalf("SetFirewallRuleActive() error: %v", err)
	}
	active, _ := store.ListFirewallRules(ctx, true)
	if len(active) != 0 {
		t.Errorf("disabled rule still listed as active")
	}

	if err := store.DeleteFirewallRule(ctx, "fw1"); err != nil {
		t.Fatalf("DeleteFirewallRule() error: %v", err)
	}
	if err := store.DeleteFirewallRule(ctx, "fw1"); err != ErrNotFound {
		t.Errorf("double delete = %v, want ErrNotFound", err)
	}
}

func TestFirewallEvents(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i, action := range []string{"rule_added", "threat_sync", "apply"} {
		event := &FirewallEvent{
			Action:    action,
			Timestamp: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := store.InsertFirewallEvent(ctx, event); err != nil {
			t.Fatalf("InsertFirewallEvent() error: %v", err)
		}
	}

	events, err := store.ListFirewallEvents(ctx, 2)
	if err != nil {
		t.Fatalf("ListFirewallEvents() error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want limit of 2", len(events))
	}
	if events[0].Action != "apply" {
		t.Errorf("events should be newest-first, got %q", events[0].Action)
	}

	stats, err := store.DailyFirewallStats(ctx, 7)
	if err != nil {
		t.Fatalf("DailyFirewallStats() error: %v", err)
	}
	if len(stats) != 1 || stats[0].Events != 3 || stats[0].Adds != 1 || stats[0].Syncs != 1 {
		t.Errorf("daily stats = %+v", stats)
	}
}

func TestClosedStoreRejectsCalls(t *testing.T) {
	store := testStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := store.Ping(context.Background()); err != ErrClosed {
		t.Errorf("Ping() after close = %v, want ErrClosed", err)
	}
	// Close is idempotent
	if err := store.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}
