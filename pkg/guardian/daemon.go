// Package guardian wires the DNS protection stack: cache, resolver,
// blocklist, rules, decision engine, stats, and the DNS listeners.
package guardian

import (
	"context"
	"fmt"
	"sync"
	"time"

	"netwarden/pkg/blocklist"
	"netwarden/pkg/cache"
	"netwarden/pkg/config"
	"netwarden/pkg/decision"
	"netwarden/pkg/dnsserver"
	"netwarden/pkg/logging"
	"netwarden/pkg/resolver"
	"netwarden/pkg/rules"
	"netwarden/pkg/stats"
	"netwarden/pkg/storage"
	"netwarden/pkg/telemetry"
)

// Daemon is the lifecycle orchestrator for the DNS protection stack
type Daemon struct {
	cfg    *config.Config
	store  storage.Store
	logger *logging.Logger

	cache     *cache.Cache
	resolver  *resolver.Resolver
	blocklist *blocklist.Store
	rules     *rules.Store
	stats     *stats.Tracker
	server    *dnsserver.Server
	health    *HealthChecker
	pidFile   *PIDFile

	startedAt time.Time
	errChan   chan error
	wg        sync.WaitGroup
}

// New builds the daemon and its components. Nothing starts until Start.
func New(cfg *config.Config, store storage.Store, metrics *telemetry.Metrics, logger *logging.Logger) (*Daemon, error) {
	dnsCache, err := cache.New(&cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	upstream := resolver.New(&cfg.Upstream, logger)
	blockStore := blocklist.NewStore(&cfg.Blocklist, store, logger, nil)
	ruleStore := rules.NewStore(store, logger)
	tracker := stats.NewTracker(&cfg.Stats, store, logger)
	engine := decision.New(ruleStore, blockStore)

	handler := dnsserver.NewHandler(&cfg.DNS, cfg.Cache.DefaultTTL,
		dnsCache, engine, ruleStore, upstream, tracker, metrics, logger)
	server := dnsserver.NewServer(&cfg.DNS, handler, logger)

	return &Daemon{
		cfg:       cfg,
		store:     store,
		logger:    logger,
		cache:     dnsCache,
		resolver:  upstream,
		blocklist: blockStore,
		rules:     ruleStore,
		stats:     tracker,
		server:    server,
		health:    NewHealthChecker(upstream, blockStore, dnsCache),
		errChan:   make(chan error, 1),
	}, nil
}

// Start acquires the PID file, loads persisted state, and brings up the
// listeners and background loops. Returns once everything is running;
// listener failures surface on Err.
func (d *Daemon) Start(ctx context.Context) error {
	pidFile, err := AcquirePIDFile(d.cfg.PIDFile)
	if err != nil {
		return fmt.Errorf("failed to acquire pid file: %w", err)
	}
	d.pidFile = pidFile

	if err := d.blocklist.LoadFromStorage(ctx); err != nil {
		d.logger.Warn("Failed to load persisted blocklist, starting empty", "error", err)
	}
	if err := d.rules.LoadFromStorage(ctx); err != nil {
		d.logger.Warn("Failed to load persisted rules, starting empty", "error", err)
	}

	if err := d.blocklist.Start(ctx); err != nil {
		d.logger.Warn("Blocklist updater failed to start", "error", err)
	}
	d.stats.Start(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.server.Start(ctx); err != nil {
			select {
			case d.errChan <- err:
			default:
			}
		}
	}()

	d.startedAt = time.Now()
	d.logger.Info("Guardian daemon started",
		"dns", d.cfg.DNS.ListenAddress(),
		"blocklist_domains", d.blocklist.Size(),
		"rules", d.rules.Size())
	return nil
}

// Err exposes fatal listener failures
func (d *Daemon) Err() <-chan error { return d.errChan }

// Stop shuts down listeners and loops, flushes stats, and releases the
// PID file.
func (d *Daemon) Stop(ctx context.Context) error {
	d.logger.Info("Guardian daemon stopping")

	if err := d.server.Shutdown(ctx); err != nil {
		d.logger.Error("DNS server shutdown failed", "error", err)
	}
	d.blocklist.Stop()
	d.stats.Stop(ctx)
	d.wg.Wait()

	if d.pidFile != nil {
		if err := d.pidFile.Release(); err != nil {
			return err
		}
	}
	d.logger.Info("Guardian daemon stopped")
	return nil
}

// Component accessors for the HTTP control plane.

func (d *Daemon) Cache() *cache.Cache           { return d.cache }
func (d *Daemon) Blocklist() *blocklist.Store   { return d.blocklist }
func (d *Daemon) Rules() *rules.Store           { return d.rules }
func (d *Daemon) Stats() *stats.Tracker         { return d.stats }
func (d *Daemon) Health() *HealthChecker        { return d.health }
func (d *Daemon) StartedAt() time.Time          { return d.startedAt }
func (d *Daemon) ServerRunning() bool           { return d.server.IsRunning() }
