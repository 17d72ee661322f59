// Package telemetry wires up the Prometheus + OpenTelemetry exporters used
// across the project.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"

	"netwarden/pkg/config"
	"netwarden/pkg/logging"
)

// Telemetry holds telemetry providers and exporters
type Telemetry struct {
	cfg                *config.TelemetryConfig
	meterProvider      metric.MeterProvider
	prometheusExporter *prometheus.Exporter
	prometheusServer   *http.Server
	logger             *logging.Logger
}

// Metrics holds all application metrics
type Metrics struct {
	// DNS pipeline
	DNSQueriesTotal     metric.Int64Counter
	DNSQueryDuration    metric.Float64Histogram
	DNSCacheHits        metric.Int64Counter
	DNSBlockedQueries   metric.Int64Counter
	DNSForwardedQueries metric.Int64Counter
	DNSUpstreamErrors   metric.Int64Counter

	// Threat ingestion
	ThreatIndicatorsIngested metric.Int64Counter
	ThreatFeedErrors         metric.Int64Counter

	// Firewall
	FirewallActiveRules metric.Int64UpDownCounter

	// Alerts
	AlertsDispatched metric.Int64Counter

	// Sizes
	BlocklistSize metric.Int64UpDownCounter
	CacheSize     metric.Int64UpDownCounter
}

// New creates a new telemetry instance
func New(ctx context.Context, cfg *config.TelemetryConfig, logger *logging.Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		logger.Info("Telemetry disabled")
		return &Telemetry{
			cfg:           cfg,
			meterProvider: noop.NewMeterProvider(),
			logger:        logger,
		}, nil
	}

	t := &Telemetry{cfg: cfg, logger: logger}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := t.setupMetrics(res); err != nil {
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}

	logger.Info("Telemetry initialized",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"prometheus", cfg.PrometheusEnabled,
	)
	return t, nil
}

// setupMetrics initializes the metrics provider
func (t *Telemetry) setupMetrics(res *resource.Resource) error {
	if !t.cfg.PrometheusEnabled {
		t.meterProvider = noop.NewMeterProvider()
		return nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	t.prometheusExporter = exporter

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	t.meterProvider = provider
	otel.SetMeterProvider(provider)

	if err := t.startPrometheusServer(); err != nil {
		return fmt.Errorf("failed to start prometheus server: %w", err)
	}

	t.logger.Info("Prometheus metrics enabled", "port", t.cfg.PrometheusPort)
	return nil
}

// startPrometheusServer starts the Prometheus metrics HTTP server
func (t *Telemetry) startPrometheusServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	t.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.cfg.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := t.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("Prometheus server failed", "error", err)
		}
	}()
	return nil
}

// InitMetrics initializes and returns all application metrics
func (t *Telemetry) InitMetrics() (*Metrics, error) {
	meter := t.meterProvider.Meter("netwarden")

	queriesTotal, err := meter.Int64Counter(
		"dns.queries.total",
		metric.WithDescription("Total number of DNS queries received"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queries counter: %w", err)
	}

	queryDuration, err := meter.Float64Histogram(
		"dns.query.duration",
		metric.WithDescription("DNS query processing duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	cacheHits, err := meter.Int64Counter(
		"dns.cache.hits",
		metric.WithDescription("Number of DNS cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	blockedQueries, err := meter.Int64Counter(
		"dns.queries.blocked",
		metric.WithDescription("Number of blocked DNS queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create blocked queries counter: %w", err)
	}

	forwardedQueries, err := meter.Int64Counter(
		"dns.queries.forwarded",
		metric.WithDescription("Number of forwarded DNS queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create forwarded queries counter: %w", err)
	}

	upstreamErrors, err := meter.Int64Counter(
		"dns.upstream.errors",
		metric.WithDescription("Number of failed upstream resolutions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream errors counter: %w", err)
	}

	indicatorsIngested, err := meter.Int64Counter(
		"threat.indicators.ingested",
		metric.WithDescription("Number of threat indicators upserted"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create indicators counter: %w", err)
	}

	feedErrors, err := meter.Int64Counter(
		"threat.feed.errors",
		metric.WithDescription("Number of failed feed fetches"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed errors counter: %w", err)
	}

	activeRules, err := meter.Int64UpDownCounter(
		"firewall.rules.active",
		metric.WithDescription("Number of active firewall rules"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active rules gauge: %w", err)
	}

	alertsDispatched, err := meter.Int64Counter(
		"alerts.dispatched",
		metric.WithDescription("Number of alerts delivered to channels"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create alerts counter: %w", err)
	}

	blocklistSize, err := meter.Int64UpDownCounter(
		"blocklist.size",
		metric.WithDescription("Number of domains in the merged blocklist"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create blocklist size gauge: %w", err)
	}

	cacheSize, err := meter.Int64UpDownCounter(
		"cache.size",
		metric.WithDescription("Number of entries in the DNS cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache size gauge: %w", err)
	}

	return &Metrics{
		DNSQueriesTotal:          queriesTotal,
		DNSQueryDuration:         queryDuration,
		DNSCacheHits:             cacheHits,
		DNSBlockedQueries:        blockedQueries,
		DNSForwardedQueries:      forwardedQueries,
		DNSUpstreamErrors:        upstreamErrors,
		ThreatIndicatorsIngested: indicatorsIngested,
		ThreatFeedErrors:         feedErrors,
		FirewallActiveRules:      activeRules,
		AlertsDispatched:         alertsDispatched,
		BlocklistSize:            blocklistSize,
		CacheSize:                cacheSize,
	}, nil
}

// MeterProvider returns the meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// Shutdown stops the Prometheus server and flushes the meter provider
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.prometheusServer != nil {
		if err := t.prometheusServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown prometheus server: %w", err)
		}
	}
	if provider, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := provider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown meter provider: %w", err)
		}
	}
	return nil
}
