package firewall

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"netwarden/pkg/config"
	"netwarden/pkg/logging"
	"netwarden/pkg/storage"
	"netwarden/pkg/telemetry"
)

// Service owns the rule set: CRUD, the two sync sources, and pushing
// the active set to the adapter after every mutation.
type Service struct {
	cfg     *config.FirewallConfig
	store   storage.Store
	adapter Adapter
	metrics *telemetry.Metrics
	logger  *logging.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewService creates the firewall service
func NewService(cfg *config.FirewallConfig, store storage.Store, adapter Adapter,
	m *telemetry.Metrics, logger *logging.Logger) *Service {
	return &Service{
		cfg:     cfg,
		store:   store,
		adapter: adapter,
		metrics: m,
		logger:  logger,
	}
}

// Adapter returns the active platform adapter
func (s *Service) Adapter() Adapter { return s.adapter }

// AddRule validates and persists a user rule, then reapplies
func (s *Service) AddRule(ctx context.Context, rule *storage.FirewallRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Source == "" {
		rule.Source = SourceUser
	}
	rule.IsActive = true
	rule.CreatedAt = time.Now()

	exists, err := s.store.FirewallRuleExists(ctx, rule.Type, rule.Target)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("rule for %s %s already exists", rule.Type, rule.Target)
	}

	if err := s.store.InsertFirewallRule(ctx, rule); err != nil {
		return err
	}
	s.recordEvent(ctx, "rule_added", rule.ID, rule.Target, rule.Source)
	if s.metrics != nil {
		s.metrics.FirewallActiveRules.Add(ctx, 1)
	}
	return s.Apply(ctx)
}

// RemoveRule deletes a rule and reapplies
func (s *Service) RemoveRule(ctx context.Context, id string) error {
	rule, err := s.store.GetFirewallRule(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteFirewallRule(ctx, id); err != nil {
		return err
	}
	s.recordEvent(ctx, "rule_removed", id, rule.Target, rule.Source)
	if s.metrics != nil && rule.IsActive {
		s.metrics.FirewallActiveRules.Add(ctx, -1)
	}
	return s.Apply(ctx)
}

// ToggleRule flips a rule's active flag and reapplies
func (s *Service) ToggleRule(ctx context.Context, id string) (*storage.FirewallRule, error) {
	rule, err := s.store.GetFirewallRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetFirewallRuleActive(ctx, id, !rule.IsActive); err != nil {
		return nil, err
	}
	rule.IsActive = !rule.IsActive
	s.recordEvent(ctx, "rule_toggled", id, rule.Target, strconv.FormatBool(rule.IsActive))
	if s.metrics != nil {
		if rule.IsActive {
			s.metrics.FirewallActiveRules.Add(ctx, 1)
		} else {
			s.metrics.FirewallActiveRules.Add(ctx, -1)
		}
	}
	if err := s.Apply(ctx); err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules returns rules, optionally only active ones
func (s *Service) ListRules(ctx context.Context, activeOnly bool) ([]*storage.FirewallRule, error) {
	return s.store.ListFirewallRules(ctx, activeOnly)
}

// SyncThreatRules projects high-score threat subnets into outbound
// block_ip rules. Existing (type, target) pairs are left alone.
func (s *Service) SyncThreatRules(ctx context.Context) (int, error) {
	indicators, err := s.store.HighScoreIndicators(ctx, s.cfg.ThreatScoreMin, time.Now())
	if err != nil {
		return 0, err
	}

	added := 0
	for _, ind := range indicators {
		// Only private subnets keep a cleartext prefix; hashed-only
		// rows cannot be projected to a packet rule.
		if ind.SubnetPrefix == "" {
			continue
		}
		exists, err := s.store.FirewallRuleExists(ctx, TypeBlockIP, ind.SubnetPrefix)
		if err != nil {
			return added, err
		}
		if exists {
			continue
		}
		expiry := ind.ExpiresAt
		rule := &storage.FirewallRule{
			ID:        uuid.NewString(),
			Type:      TypeBlockIP,
			Target:    ind.SubnetPrefix,
			Direction: DirectionOutbound,
			Protocol:  ProtocolAny,
			Source:    SourceThreatIntel,
			Reason:    fmt.Sprintf("threat score %.4f", ind.ThreatScore),
			IsActive:  true,
			CreatedAt: time.Now(),
			ExpiresAt: &expiry,
		}
		if err := s.store.InsertFirewallRule(ctx, rule); err != nil {
			return added, err
		}
		added++
	}

	s.recordEvent(ctx, "threat_sync", "", "", fmt.Sprintf("added %d", added))
	if s.metrics != nil && added > 0 {
		s.metrics.FirewallActiveRules.Add(ctx, int64(added))
	}
	if added > 0 {
		if err := s.Apply(ctx); err != nil {
			return added, err
		}
	}
	s.logger.Info("Threat rules synced", "added", added, "candidates", len(indicators))
	return added, nil
}

// SyncPortRules imports the high-risk port table as block_port rules,
// skipping pairs that already exist.
func (s *Service) SyncPortRules(ctx context.Context) (int, error) {
	added := 0
	for _, p := range HighRiskPorts() {
		target := strconv.Itoa(p.Port)
		exists, err := s.store.FirewallRuleExists(ctx, TypeBlockPort, target)
		if err != nil {
			return added, err
		}
		if exists {
			continue
		}
		rule := &storage.FirewallRule{
			ID:        uuid.NewString(),
			Type:      TypeBlockPort,
			Target:    target,
			Direction: DirectionInbound,
			Protocol:  p.Protocol,
			Source:    SourceRemediation,
			Reason:    fmt.Sprintf("%s: %s", p.Service, p.Reason),
			IsActive:  true,
			CreatedAt: time.Now(),
		}
		if err := s.store.InsertFirewallRule(ctx, rule); err != nil {
			return added, err
		}
		added++
	}

	s.recordEvent(ctx, "port_sync", "", "", fmt.Sprintf("added %d", added))
	if s.metrics != nil && added > 0 {
		s.metrics.FirewallActiveRules.Add(ctx, int64(added))
	}
	if added > 0 {
		if err := s.Apply(ctx); err != nil {
			return added, err
		}
	}
	s.logger.Info("Port rules synced", "added", added)
	return added, nil
}

// Apply pushes the current active rule set to the adapter
func (s *Service) Apply(ctx context.Context) error {
	rules, err := s.store.ListFirewallRules(ctx, true)
	if err != nil {
		return err
	}

	// Drop expired rules from the applied set
	now := time.Now()
	active := rules[:0]
	for _, r := range rules {
		if r.ExpiresAt != nil && r.ExpiresAt.Before(now) {
			continue
		}
		active = append(active, r)
	}

	if err := s.adapter.ApplyRules(active); err != nil {
		return fmt.Errorf("adapter apply failed: %w", err)
	}
	s.recordEvent(ctx, "apply", "", "", strconv.Itoa(len(active)))
	return nil
}

// Start runs the periodic auto-sync loop when enabled
func (s *Service) Start(ctx context.Context) {
	if !s.cfg.AutoSync {
		return
	}
	s.stopChan = make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.SyncThreatRules(ctx); err != nil {
					s.logger.Error("Threat rule sync failed", "error", err)
				}
			case <-s.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the auto-sync loop
func (s *Service) Stop() {
	if s.stopChan != nil {
		close(s.stopChan)
	}
	s.wg.Wait()
}

func (s *Service) recordEvent(ctx context.Context, action, ruleID, target, detail string) {
	event := &storage.FirewallEvent{
		Action:    action,
		RuleID:    ruleID,
		Target:    target,
		Detail:    detail,
		Timestamp: time.Now(),
	}
	if err := s.store.InsertFirewallEvent(ctx, event); err != nil {
		s.logger.Error("Failed to record firewall event", "action", action, "error", err)
	}
}

func validateRule(rule *storage.FirewallRule) error {
	if !validTypes[rule.Type] {
		return fmt.Errorf("invalid rule type %q", rule.Type)
	}
	if rule.Target == "" {
		return fmt.Errorf("rule target must not be empty")
	}
	if rule.Direction == "" {
		rule.Direction = DirectionBoth
	}
	if !validDirections[rule.Direction] {
		return fmt.Errorf("invalid direction %q", rule.Direction)
	}
	if rule.Protocol == "" {
		rule.Protocol = ProtocolAny
	}
	if !validProtocols[rule.Protocol] {
		return fmt.Errorf("invalid protocol %q", rule.Protocol)
	}
	if rule.Type == TypeBlockPort {
		port, err := strconv.Atoi(rule.Target)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid port target %q", rule.Target)
		}
	}
	return nil
}
