package alert

import (
	"context"
	"sync"

	"netwarden/pkg/config"
	"netwarden/pkg/logging"
	"netwarden/pkg/telemetry"
)

const historySize = 256

// Pipeline diffs snapshots, dispatches the resulting alerts, and keeps
// a bounded in-memory history for the control plane.
type Pipeline struct {
	differ   *Differ
	channels []Channel
	metrics  *telemetry.Metrics
	logger   *logging.Logger

	mu       sync.Mutex
	prev     *Snapshot
	history  []Alert
	histNext int
}

// NewPipeline creates the alert pipeline. A webhook channel is added
// when one is configured; the log channel is always present.
func NewPipeline(cfg *config.AlertsConfig, m *telemetry.Metrics, logger *logging.Logger) *Pipeline {
	channels := []Channel{
		NewLogChannel(Severity(cfg.MinSeverity), logger),
	}
	if cfg.WebhookURL != "" {
		channels = append(channels,
			NewWebhookChannel(cfg.WebhookURL, Severity(cfg.MinSeverity), cfg.WebhookTimeout))
	}
	return &Pipeline{
		differ:   NewDiffer(cfg),
		channels: channels,
		metrics:  m,
		logger:   logger,
		history:  make([]Alert, 0, historySize),
	}
}

// Ingest diffs the new snapshot against the previous one and
// dispatches the resulting alerts. Returns what was dispatched.
func (p *Pipeline) Ingest(ctx context.Context, snap *Snapshot) []Alert {
	p.mu.Lock()
	prev := p.prev
	p.prev = snap
	p.mu.Unlock()

	if prev == nil {
		// First snapshot is the baseline, not a wave of new devices
		return nil
	}

	alerts := p.differ.Diff(prev, snap)
	for _, a := range alerts {
		p.Dispatch(ctx, a)
	}
	return alerts
}

// Dispatch delivers one alert to every eligible channel. Channels run
// concurrently and fail independently.
func (p *Pipeline) Dispatch(ctx context.Context, a Alert) {
	p.remember(a)

	var wg sync.WaitGroup
	for _, ch := range p.channels {
		if severityRank[a.Severity] < severityRank[ch.MinSeverity()] {
			continue
		}
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			if err := ch.Deliver(ctx, a); err != nil {
				p.logger.Warn("Alert delivery failed",
					"channel", ch.Name(), "kind", a.Kind, "error", err)
				return
			}
			if p.metrics != nil {
				p.metrics.AlertsDispatched.Add(ctx, 1)
			}
		}(ch)
	}
	wg.Wait()
}

// History returns the retained alerts, newest last
func (p *Pipeline) History() []Alert {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.history) < historySize {
		out := make([]Alert, len(p.history))
		copy(out, p.history)
		return out
	}
	// Ring is full: oldest entry sits at histNext
	out := make([]Alert, 0, historySize)
	out = append(out, p.history[p.histNext:]...)
	out = append(out, p.history[:p.histNext]...)
	return out
}

func (p *Pipeline) remember(a Alert) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.history) < historySize {
		p.history = append(p.history, a)
		return
	}
	p.history[p.histNext] = a
	p.histNext = (p.histNext + 1) % historySize
}
