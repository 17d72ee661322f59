package rules

import (
	"context"
	"testing"

	"netwarden/pkg/config"
	"netwarden/pkg/logging"
	"netwarden/pkg/storage"
)

type ruleStore struct {
	storage.Store
	rules map[string]*storage.CustomRule
	hits  map[string]int
}

func newRuleStore() *ruleStore {
	return &ruleStore{
		rules: make(map[string]*storage.CustomRule),
		hits:  make(map[string]int),
	}
}

func (s *ruleStore) InsertCustomRule(ctx context.Context, rule *storage.CustomRule) error {
	copied := *rule
	s.rules[rule.ID] = &copied
	return nil
}

func (s *ruleStore) DeactivateCustomRule(ctx context.Context, id string) error {
	rule, ok := s.rules[id]
	if !ok {
		return storage.ErrNotFound
	}
	rule.IsActive = false
	return nil
}

func (s *ruleStore) ListCustomRules(ctx context.Context, activeOnly bool) ([]*storage.CustomRule, error) {
	var out []*storage.CustomRule
	for _, rule := range s.rules {
		if activeOnly && !rule.IsActive {
			continue
		}
		copied := *rule
		out = append(out, &copied)
	}
	return out, nil
}

func (s *ruleStore) IncrementRuleHit(ctx context.Context, id string) error {
	s.hits[id]++
	return nil
}

func testStore(t *testing.T) (*Store, *ruleStore) {
	t.Helper()
	logger, err := logging.New(&config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"})
	if err != nil {
		t.Fatalf("logging.New() error: %v", err)
	}
	backing := newRuleStore()
	return NewStore(backing, logger), backing
}

func TestAddAndCheck(t *testing.T) {
	s, _ := testStore(t)

	id, err := s.Add(context.Background(), ActionBlock, "Tracker.Example.COM.", "ads", "manual")
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if id == "" {
		t.Fatal("Add() returned empty rule ID")
	}

	// Lookup normalizes the same way as Add
	m, ok := s.Check("tracker.example.com")
	if !ok {
		t.Fatal("Check() missed a rule that was just added")
	}
	if m.Action != ActionBlock || m.RuleID != id || m.Category != "ads" {
		t.Errorf("Check() = %+v", m)
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	s, _ := testStore(t)

	if _, err := s.Add(context.Background(), "maybe", "example.com", "", ""); err == nil {
		t.Error("Add() should reject unknown actions")
	}
	if _, err := s.Add(context.Background(), ActionAllow, "", "", ""); err == nil {
		t.Error("Add() should reject empty domains")
	}
}

func TestCheckIsExactMatch(t *testing.T) {
	s, _ := testStore(t)

	if _, err := s.Add(context.Background(), ActionBlock, "example.com", "", ""); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if _, ok := s.Check("sub.example.com"); ok {
		t.Error("Check() must not walk up to parent domains")
	}
}

func TestRemove(t *testing.T) {
	s, backing := testStore(t)

	id, err := s.Add(context.Background(), ActionAllow, "example.com", "", "")
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := s.Remove(context.Background(), id); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}

	if _, ok := s.Check("example.com"); ok {
		t.Error("removed rule still matches")
	}
	if backing.rules[id].IsActive {
		t.Error("Remove() should soft-delete the persisted rule")
	}
	if s.Size() != 0 {
		t.Errorf("Size() = %d after removal", s.Size())
	}
}

func TestLoadFromStorage(t *testing.T) {
	s, backing := testStore(t)

	backing.rules["r1"] = &storage.CustomRule{ID: "r1", Action: ActionBlock, Domain: "blocked.example.com", IsActive: true}
	backing.rules["r2"] = &storage.CustomRule{ID: "r2", Action: ActionAllow, Domain: "stale.example.com", IsActive: false}

	if err := s.LoadFromStorage(context.Background()); err != nil {
		t.Fatalf("LoadFromStorage() error: %v", err)
	}

	if _, ok := s.Check("blocked.example.com"); !ok {
		t.Error("active persisted rule missing from the index")
	}
	if _, ok := s.Check("stale.example.com"); ok {
		t.Error("inactive persisted rule must not be indexed")
	}
}

func TestIncrementHit(t *testing.T) {
	s, backing := testStore(t)

	id, err := s.Add(context.Background(), ActionBlock, "example.com", "", "")
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	s.IncrementHit(context.Background(), id)
	s.IncrementHit(context.Background(), id)
	if backing.hits[id] != 2 {
		t.Errorf("hit counter = %d, want 2", backing.hits[id])
	}
}
