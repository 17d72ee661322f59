package api

import (
	"encoding/json"
	"net/http"

	"netwarden/pkg/blocklist"
)

// handleGuardianStatus reports daemon liveness plus host resource usage
func (s *Server) handleGuardianStatus(w http.ResponseWriter, r *http.Request) {
	metrics := collectSystemMetrics(r.Context())

	response := map[string]interface{}{
		"status":            "running",
		"version":           s.version,
		"uptime":            s.getUptime(),
		"dns_running":       s.daemon.ServerRunning(),
		"dns_address":       s.cfg.DNS.ListenAddress(),
		"blocklist_domains": s.daemon.Blocklist().Size(),
		"custom_rules":      s.daemon.Rules().Size(),
		"cache":             s.daemon.Cache().Stats(),
		"system": map[string]interface{}{
			"cpu_percent": metrics.CPUPercent,
			"mem_used":    metrics.MemUsed,
			"mem_total":   metrics.MemTotal,
			"mem_percent": metrics.MemPercent,
		},
	}
	if metrics.temperatureOK {
		response["system"].(map[string]interface{})["temperature_c"] = metrics.TemperatureC
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleGuardianStats returns the in-memory counters and the persisted
// daily aggregates.
func (s *Server) handleGuardianStats(w http.ResponseWriter, r *http.Request) {
	summary := s.daemon.Stats().Summary()

	top, err := s.store.TopBlockedDomains(r.Context(), s.cfg.Stats.TopDomains)
	if err != nil {
		s.logger.Error("Failed to load top blocked domains", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve statistics")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary":        summary,
		"top_all_time":   top,
		"cache":          s.daemon.Cache().Stats(),
		"blocklist_size": s.daemon.Blocklist().Size(),
	})
}

func (s *Server) handleGuardianHealth(w http.ResponseWriter, r *http.Request) {
	report := s.daemon.Health().Check(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") == ""
	list, err := s.daemon.Rules().List(r.Context(), activeOnly)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list rules")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"rules": list, "count": len(list)})
}

type addRuleRequest struct {
	Action   string `json:"action"`
	Domain   string `json:"domain"`
	Category string `json:"category"`
	Reason   string `json:"reason"`
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var req addRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Domain == "" {
		s.writeError(w, http.StatusBadRequest, "domain is required")
		return
	}

	id, err := s.daemon.Rules().Add(r.Context(), req.Action, blocklist.Normalize(req.Domain), req.Category, req.Reason)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.daemon.Rules().Remove(r.Context(), id); err != nil {
		s.writeError(w, http.StatusNotFound, "Rule not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// handleBlocklists reports both the per-source domain counts and the
// merged union size; the union is smaller whenever sources overlap.
func (s *Server) handleBlocklists(w http.ResponseWriter, r *http.Request) {
	lists, err := s.store.ListBlocklists(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list blocklists")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sources":     lists,
		"union_count": s.daemon.Blocklist().Size(),
	})
}

func (s *Server) handleBlocklistUpdate(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.Blocklist().Update(r.Context()); err != nil {
		s.logger.Error("Blocklist update failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Blocklist update failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "updated",
		"domains": s.daemon.Blocklist().Size(),
	})
}
