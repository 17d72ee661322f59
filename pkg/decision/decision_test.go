package decision

import (
	"context"
	"testing"

	"netwarden/pkg/blocklist"
	"netwarden/pkg/config"
	"netwarden/pkg/logging"
	"netwarden/pkg/rules"
	"netwarden/pkg/storage"
)

type stubStore struct {
	storage.Store
	rules   []*storage.CustomRule
	blocked []storage.BlockedDomain
}

func (s *stubStore) ListCustomRules(ctx context.Context, activeOnly bool) ([]*storage.CustomRule, error) {
	return s.rules, nil
}

func (s *stubStore) LoadBlockedDomains(ctx context.Context) ([]storage.BlockedDomain, error) {
	return s.blocked, nil
}

func testEngine(t *testing.T, store *stubStore) *Engine {
	logger, err := logging.New(&config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	ruleStore := rules.NewStore(store, logger)
	if err := ruleStore.LoadFromStorage(context.Background()); err != nil {
		t.Fatalf("rules LoadFromStorage() error: %v", err)
	}

	blockStore := blocklist.NewStore(&config.BlocklistConfig{}, store, logger, nil)
	if err := blockStore.LoadFromStorage(context.Background()); err != nil {
		t.Fatalf("blocklist LoadFromStorage() error: %v", err)
	}

	return New(ruleStore, blockStore)
}

func TestDecideDefaultAllow(t *testing.T) {
	e := testEngine(t, &stubStore{})

	d := e.Decide("harmless.example.com")
	if d.Block() {
		t.Fatal("unknown domain should be allowed")
	}
	if d.Reason != ReasonDefaultAllow {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonDefaultAllow)
	}
}

func TestDecideBlocklist(t *testing.T) {
	e := testEngine(t, &stubStore{
		blocked: []storage.BlockedDomain{{Domain: "ads.example.com", Category: "advertising"}},
	})

	d := e.Decide("ads.example.com")
	if !d.Block() {
		t.Fatal("blocklisted domain should be blocked")
	}
	if d.Reason != ReasonBlocklist || d.Category != "advertising" {
		t.Errorf("Decision = %+v, want blocklist/advertising", d)
	}
}

func TestCustomAllowOverridesBlocklist(t *testing.T) {
	e := testEngine(t, &stubStore{
		rules: []*storage.CustomRule{
			{ID: "r1", Action: "allow", Domain: "ads.example.com", IsActive: true},
		},
		blocked: []storage.BlockedDomain{{Domain: "ads.example.com", Category: "advertising"}},
	})

	d := e.Decide("ads.example.com")
	if d.Block() {
		t.Fatal("custom allow must dominate the blocklist")
	}
	if d.Reason != ReasonCustomAllow || d.RuleID != "r1" {
		t.Errorf("Decision = %+v, want custom_allow via r1", d)
	}
}

func TestCustomBlock(t *testing.T) {
	e := testEngine(t, &stubStore{
		rules: []*storage.CustomRule{
			{ID: "r2", Action: "block", Domain: "bad.example.com", IsActive: true, Category: "manual"},
		},
	})

	d := e.Decide("bad.example.com")
	if !d.Block() {
		t.Fatal("custom block should be blocked")
	}
	if d.Reason != ReasonCustomBlock || d.RuleID != "r2" {
		t.Errorf("Decision = %+v, want custom_block via r2", d)
	}
}

func TestDecideDeterministic(t *testing.T) {
	e := testEngine(t, &stubStore{
		blocked: []storage.BlockedDomain{{Domain: "ads.example.com"}},
	})

	first := e.Decide("ads.example.com")
	for i := 0; i < 100; i++ {
		if got := e.Decide("ads.example.com"); got != first {
			t.Fatalf("Decide() is not deterministic: %+v vs %+v", got, first)
		}
	}
}
