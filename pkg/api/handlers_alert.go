package api

import (
	"encoding/json"
	"net/http"
	"time"

	"netwarden/pkg/alert"
)

func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	history := s.alerts.History()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": history,
		"count":  len(history),
	})
}

// handleAlertSnapshot accepts a scan snapshot from an external scanner
// and runs it through the diff pipeline.
func (s *Server) handleAlertSnapshot(w http.ResponseWriter, r *http.Request) {
	var snap alert.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now()
	}

	alerts := s.alerts.Ingest(r.Context(), &snap)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"assets":      len(snap.Assets),
		"alerts":      alerts,
		"alert_count": len(alerts),
	})
}
