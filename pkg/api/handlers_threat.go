package api

import (
	"errors"
	"net"
	"net/http"

	"netwarden/pkg/storage"
)

func (s *Server) handleThreatFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.store.ListThreatFeeds(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list feeds")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"feeds": feeds, "count": len(feeds)})
}

func (s *Server) handleThreatStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.ThreatStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to load threat statistics")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleThreatLookup resolves the indicator covering an IP's /24
func (s *Server) handleThreatLookup(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	if net.ParseIP(ip) == nil {
		s.writeError(w, http.StatusBadRequest, "Invalid IP address")
		return
	}

	indicator, err := s.ingestor.Lookup(r.Context(), ip)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "No indicator for this address")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Lookup failed")
		return
	}

	response := map[string]interface{}{"indicator": indicator}
	// Reputation enrichment is advisory; a nil record just means it is
	// unavailable right now
	if rec, _ := s.reputation.Check(r.Context(), ip); rec != nil {
		response["reputation"] = rec
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleThreatSyncAll(w http.ResponseWriter, r *http.Request) {
	if err := s.ingestor.SyncAll(r.Context()); err != nil {
		s.logger.Error("Manual threat sync failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

func (s *Server) handleThreatSyncOne(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	parser := s.ingestor.Parser(name)
	if parser == nil {
		s.writeError(w, http.StatusNotFound, "Unknown feed")
		return
	}
	if err := s.ingestor.SyncFeed(r.Context(), parser); err != nil {
		s.logger.Error("Manual feed sync failed", "feed", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "synced", "feed": name})
}
