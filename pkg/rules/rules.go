// Package rules holds user allow/block rules with a memory index backed
// by persistence. Rules are exact-match: no parent-domain fallback.
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"netwarden/pkg/blocklist"
	"netwarden/pkg/logging"
	"netwarden/pkg/storage"
)

// Actions a rule may carry.
const (
	ActionAllow = "allow"
	ActionBlock = "block"
)

// Match is the result of an index lookup
type Match struct {
	Action   string
	RuleID   string
	Category string
}

// Store is the rules store: memory index plus persistent backing
type Store struct {
	store  storage.Store
	logger *logging.Logger

	mu    sync.RWMutex
	index map[string]Match
}

// NewStore creates an empty rules store
func NewStore(store storage.Store, logger *logging.Logger) *Store {
	return &Store{
		store:  store,
		logger: logger,
		index:  make(map[string]Match),
	}
}

// LoadFromStorage rebuilds the index from active persisted rules
func (s *Store) LoadFromStorage(ctx context.Context) error {
	persisted, err := s.store.ListCustomRules(ctx, true)
	if err != nil {
		return err
	}

	index := make(map[string]Match, len(persisted))
	for _, r := range persisted {
		index[r.Domain] = Match{Action: r.Action, RuleID: r.ID, Category: r.Category}
	}

	s.mu.Lock()
	s.index = index
	s.mu.Unlock()

	s.logger.Info("Custom rules loaded", "rules", len(index))
	return nil
}

// Add creates a new active rule and returns its identity
func (s *Store) Add(ctx context.Context, action, domain, category, reason string) (string, error) {
	if action != ActionAllow && action != ActionBlock {
		return "", fmt.Errorf("unknown action %q (must be allow or block)", action)
	}

	domain = blocklist.Normalize(domain)
	if domain == "" {
		return "", fmt.Errorf("domain cannot be empty")
	}

	rule := &storage.CustomRule{
		ID:        uuid.NewString(),
		Action:    action,
		Domain:    domain,
		Category:  category,
		Reason:    reason,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertCustomRule(ctx, rule); err != nil {
		return "", fmt.Errorf("failed to persist rule: %w", err)
	}

	s.mu.Lock()
	s.index[domain] = Match{Action: action, RuleID: rule.ID, Category: category}
	s.mu.Unlock()

	s.logger.Info("Custom rule added", "id", rule.ID, "action", action, "domain", domain)
	return rule.ID, nil
}

// Remove soft-deletes a rule. The index entry is dropped only when it still
// points at the removed identity, so a racing Add for the same domain wins.
func (s *Store) Remove(ctx context.Context, ruleID string) error {
	if err := s.store.DeactivateCustomRule(ctx, ruleID); err != nil {
		return err
	}

	s.mu.Lock()
	for domain, m := range s.index {
		if m.RuleID == ruleID {
			delete(s.index, domain)
			break
		}
	}
	s.mu.Unlock()

	s.logger.Info("Custom rule removed", "id", ruleID)
	return nil
}

// Check returns the exact-match rule for domain, if any
func (s *Store) Check(domain string) (Match, bool) {
	domain = blocklist.Normalize(domain)

	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.index[domain]
	return m, ok
}

// IncrementHit bumps a rule's hit counter, best-effort
func (s *Store) IncrementHit(ctx context.Context, ruleID string) {
	if err := s.store.IncrementRuleHit(ctx, ruleID); err != nil {
		s.logger.Debug("Failed to increment rule hit counter", "id", ruleID, "error", err)
	}
}

// List returns persisted rules (active only when activeOnly is set)
func (s *Store) List(ctx context.Context, activeOnly bool) ([]*storage.CustomRule, error) {
	return s.store.ListCustomRules(ctx, activeOnly)
}

// Size returns the number of indexed rules
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}
