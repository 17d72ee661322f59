package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"netwarden/pkg/alert"
	"netwarden/pkg/api"
	"netwarden/pkg/config"
	"netwarden/pkg/firewall"
	"netwarden/pkg/guardian"
	"netwarden/pkg/logging"
	"netwarden/pkg/reputation"
	"netwarden/pkg/storage"
	"netwarden/pkg/telemetry"
	"netwarden/pkg/threat"
)

var (
	configPath  = flag.String("config", "config.yml", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Print version and exit")
	version     = "dev"
	buildTime   = "unknown"
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("netwarden %s (built %s)\n", version, buildTime)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("netwarden starting", "version", version, "build_time", buildTime)

	ctx := context.Background()
	telem, err := telemetry.New(ctx, &cfg.Telemetry, logger)
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	metrics, err := telem.InitMetrics()
	if err != nil {
		logger.Error("Failed to initialize metrics", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStore(&cfg.Storage)
	if err != nil {
		logger.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	daemon, err := guardian.New(cfg, store, metrics, logger)
	if err != nil {
		logger.Error("Failed to build guardian daemon", "error", err)
		os.Exit(1)
	}

	ingestor := threat.NewIngestor(&cfg.Threat, store,
		threat.DefaultParsers(&cfg.Threat, cfg.Reputation.APIKey), metrics, logger)
	repClient := reputation.NewClient(&cfg.Reputation, logger)

	adapter := firewall.NewAdapter(logger)
	fwService := firewall.NewService(&cfg.Firewall, store, adapter, metrics, logger)

	alertPipeline := alert.NewPipeline(&cfg.Alerts, metrics, logger)

	apiServer := api.New(&api.Deps{
		Config:     cfg,
		Store:      store,
		Daemon:     daemon,
		Ingestor:   ingestor,
		Reputation: repClient,
		Firewall:   fwService,
		Alerts:     alertPipeline,
		Logger:     logger,
		Version:    version,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := daemon.Start(runCtx); err != nil {
		logger.Error("Failed to start guardian daemon", "error", err)
		os.Exit(1)
	}

	ingestor.Start(runCtx)
	if cfg.Firewall.Enabled {
		if err := adapter.Install(); err != nil {
			logger.Error("Firewall adapter install failed", "error", err)
		}
		fwService.Start(runCtx)
	}

	// Hot reload for the runtime-tunable knobs. Listener and storage
	// changes still need a restart.
	if _, statErr := os.Stat(*configPath); statErr == nil {
		watcher, werr := config.NewWatcher(*configPath, logger.Logger)
		if werr != nil {
			logger.Warn("Config watcher unavailable", "error", werr)
		} else {
			watcher.OnChange(func(updated *config.Config) {
				cfg.DNS.SinkholeIP = updated.DNS.SinkholeIP
				cfg.Firewall.ThreatScoreMin = updated.Firewall.ThreatScoreMin
				cfg.Firewall.AutoSync = updated.Firewall.AutoSync
				cfg.Alerts.MassThreshold = updated.Alerts.MassThreshold
				cfg.Alerts.Rules = updated.Alerts.Rules
				logger.Info("Configuration reloaded")
			})
			go func() {
				if err := watcher.Start(runCtx); err != nil {
					logger.Warn("Config watcher stopped", "error", err)
				}
			}()
			defer watcher.Close()
		}
	}

	apiErrChan := make(chan error, 1)
	go func() {
		if err := apiServer.Start(runCtx); err != nil {
			apiErrChan <- err
		}
	}()

	logger.Info("netwarden is running",
		"dns", cfg.DNS.ListenAddress(),
		"api", cfg.API.ListenAddress)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case err := <-daemon.Err():
		logger.Error("Guardian daemon failed", "error", err)
	case err := <-apiErrChan:
		logger.Error("API server failed", "error", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	ingestor.Stop()
	fwService.Stop()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during API shutdown", "error", err)
	}
	if err := daemon.Stop(shutdownCtx); err != nil {
		logger.Error("Error during daemon shutdown", "error", err)
	}
	if err := telem.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during telemetry shutdown", "error", err)
	}

	logger.Info("netwarden stopped")
}
