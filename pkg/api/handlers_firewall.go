package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"netwarden/pkg/storage"
)

func (s *Server) handleFirewallStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.firewall.Adapter().Status()
	if err != nil {
		s.logger.Error("Failed to query adapter status", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Adapter status failed")
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleFirewallRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") == ""
	list, err := s.firewall.ListRules(r.Context(), activeOnly)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list rules")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"rules": list, "count": len(list)})
}

func (s *Server) handleFirewallEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	events, err := s.store.ListFirewallEvents(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list events")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

func (s *Server) handleFirewallDailyStats(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 90 {
			days = n
		}
	}
	stats, err := s.store.DailyFirewallStats(r.Context(), days)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to load daily stats")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"days": days, "stats": stats})
}

func (s *Server) handleFirewallConfigGet(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":          s.cfg.Firewall.Enabled,
		"threat_score_min": s.cfg.Firewall.ThreatScoreMin,
		"auto_sync":        s.cfg.Firewall.AutoSync,
		"sync_interval":    s.cfg.Firewall.SyncInterval.String(),
	})
}

type firewallConfigRequest struct {
	ThreatScoreMin *float64 `json:"threat_score_min,omitempty"`
	AutoSync       *bool    `json:"auto_sync,omitempty"`
}

// handleFirewallConfigPut updates the runtime sync settings. Changes
// are in-memory only; the config file stays authoritative across
// restarts.
func (s *Server) handleFirewallConfigPut(w http.ResponseWriter, r *http.Request) {
	var req firewallConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.ThreatScoreMin != nil {
		if *req.ThreatScoreMin < 0 || *req.ThreatScoreMin > 1 {
			s.writeError(w, http.StatusBadRequest, "threat_score_min must be in [0, 1]")
			return
		}
		s.cfg.Firewall.ThreatScoreMin = *req.ThreatScoreMin
	}
	if req.AutoSync != nil {
		s.cfg.Firewall.AutoSync = *req.AutoSync
	}
	s.handleFirewallConfigGet(w, r)
}

type firewallRuleRequest struct {
	Type      string `json:"type"`
	Target    string `json:"target"`
	Direction string `json:"direction"`
	Protocol  string `json:"protocol"`
	Reason    string `json:"reason"`
	ExpiresAt string `json:"expires_at,omitempty"` // RFC 3339
}

func (s *Server) handleFirewallAddRule(w http.ResponseWriter, r *http.Request) {
	var req firewallRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	rule := &storage.FirewallRule{
		Type:      req.Type,
		Target:    req.Target,
		Direction: req.Direction,
		Protocol:  req.Protocol,
		Reason:    req.Reason,
	}
	if req.ExpiresAt != "" {
		expiry, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "expires_at must be RFC 3339")
			return
		}
		rule.ExpiresAt = &expiry
	}

	if err := s.firewall.AddRule(r.Context(), rule); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleFirewallToggleRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.firewall.ToggleRule(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Rule not found")
		return
	}
	s.writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleFirewallDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.firewall.RemoveRule(r.Context(), id); err != nil {
		s.writeError(w, http.StatusNotFound, "Rule not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleFirewallSyncThreats(w http.ResponseWriter, r *http.Request) {
	added, err := s.firewall.SyncThreatRules(r.Context())
	if err != nil {
		s.logger.Error("Threat rule sync failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "synced", "added": added})
}

func (s *Server) handleFirewallSyncPorts(w http.ResponseWriter, r *http.Request) {
	added, err := s.firewall.SyncPortRules(r.Context())
	if err != nil {
		s.logger.Error("Port rule sync failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "synced", "added": added})
}

func (s *Server) handleAdapterInstall(w http.ResponseWriter, r *http.Request) {
	if err := s.firewall.Adapter().Install(); err != nil {
		s.logger.Error("Adapter install failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Install failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "installed",
		"platform": s.firewall.Adapter().PlatformName(),
	})
}
