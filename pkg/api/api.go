// Package api exposes the HTTP control plane for the daemon: guardian,
// threat, firewall, and alert surfaces.
package api

import (
	"context"
	"net/http"
	"time"

	"netwarden/pkg/alert"
	"netwarden/pkg/config"
	"netwarden/pkg/firewall"
	"netwarden/pkg/guardian"
	"netwarden/pkg/logging"
	"netwarden/pkg/reputation"
	"netwarden/pkg/storage"
	"netwarden/pkg/threat"
)

// Server is the HTTP control plane
type Server struct {
	httpServer *http.Server
	logger     *logging.Logger

	cfg        *config.Config
	store      storage.Store
	daemon     *guardian.Daemon
	ingestor   *threat.Ingestor
	reputation *reputation.Client
	firewall   *firewall.Service
	alerts     *alert.Pipeline

	version   string
	startTime time.Time
}

// Deps holds the server's wired components
type Deps struct {
	Config     *config.Config
	Store      storage.Store
	Daemon     *guardian.Daemon
	Ingestor   *threat.Ingestor
	Reputation *reputation.Client
	Firewall   *firewall.Service
	Alerts     *alert.Pipeline
	Logger     *logging.Logger
	Version    string
}

// New creates the API server and registers all routes
func New(deps *Deps) *Server {
	s := &Server{
		logger:     deps.Logger,
		cfg:        deps.Config,
		store:      deps.Store,
		daemon:     deps.Daemon,
		ingestor:   deps.Ingestor,
		reputation: deps.Reputation,
		firewall:   deps.Firewall,
		alerts:     deps.Alerts,
		version:    deps.Version,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()

	// Guardian surface
	mux.HandleFunc("GET /api/guardian/status", s.handleGuardianStatus)
	mux.HandleFunc("GET /api/guardian/stats", s.handleGuardianStats)
	mux.HandleFunc("GET /api/guardian/health", s.handleGuardianHealth)
	mux.HandleFunc("GET /api/guardian/rules", s.handleListRules)
	mux.HandleFunc("POST /api/guardian/rules", s.handleAddRule)
	mux.HandleFunc("DELETE /api/guardian/rules/{id}", s.handleDeleteRule)
	mux.HandleFunc("GET /api/guardian/blocklists", s.handleBlocklists)
	mux.HandleFunc("POST /api/guardian/blocklist/update", s.handleBlocklistUpdate)

	// Threat surface
	mux.HandleFunc("GET /api/threat/feeds", s.handleThreatFeeds)
	mux.HandleFunc("GET /api/threat/stats", s.handleThreatStats)
	mux.HandleFunc("GET /api/threat/lookup/{ip}", s.handleThreatLookup)
	mux.HandleFunc("POST /api/threat/feeds/sync", s.handleThreatSyncAll)
	mux.HandleFunc("POST /api/threat/feeds/{name}/sync", s.handleThreatSyncOne)

	// Firewall surface
	mux.HandleFunc("GET /api/firewall/status", s.handleFirewallStatus)
	mux.HandleFunc("GET /api/firewall/rules", s.handleFirewallRules)
	mux.HandleFunc("GET /api/firewall/events", s.handleFirewallEvents)
	mux.HandleFunc("GET /api/firewall/config", s.handleFirewallConfigGet)
	mux.HandleFunc("GET /api/firewall/stats/daily", s.handleFirewallDailyStats)
	mux.HandleFunc("POST /api/firewall/rules", s.handleFirewallAddRule)
	mux.HandleFunc("POST /api/firewall/sync/threats", s.handleFirewallSyncThreats)
	mux.HandleFunc("POST /api/firewall/sync/ports", s.handleFirewallSyncPorts)
	mux.HandleFunc("POST /api/firewall/adapter/install", s.handleAdapterInstall)
	mux.HandleFunc("PUT /api/firewall/rules/{id}/toggle", s.handleFirewallToggleRule)
	mux.HandleFunc("PUT /api/firewall/config", s.handleFirewallConfigPut)
	mux.HandleFunc("DELETE /api/firewall/rules/{id}", s.handleFirewallDeleteRule)

	// Alert surface
	mux.HandleFunc("GET /api/alerts", s.handleAlertHistory)
	mux.HandleFunc("POST /api/alerts/snapshot", s.handleAlertSnapshot)

	handler := s.loggingMiddleware(mux)
	handler = s.corsMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         deps.Config.API.ListenAddress,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the server until ctx is cancelled or it fails
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server", "address", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
