// Package stats accumulates per-query counters in memory and flushes them
// to the hourly persistence rows on a timer.
package stats

import (
	"context"
	"sort"
	"sync"
	"time"

	"netwarden/pkg/config"
	"netwarden/pkg/logging"
	"netwarden/pkg/storage"
)

// counters is one counter plane (period or lifetime)
type counters struct {
	Total     int64 `json:"total"`
	Blocked   int64 `json:"blocked"`
	Allowed   int64 `json:"allowed"`
	CacheHits int64 `json:"cache_hits"`
}

// domainCount pairs a blocked domain with its period count
type domainCount struct {
	domain   string
	category string
	count    int64
}

// Summary is a point-in-time view of the tracker
type Summary struct {
	Period     counters       `json:"period"`
	Lifetime   counters       `json:"lifetime"`
	TopBlocked []TopBlocked   `json:"top_blocked"`
	ByReason   map[string]int `json:"by_reason"`
}

// TopBlocked is one entry of the period top-N
type TopBlocked struct {
	Domain string `json:"domain"`
	Count  int64  `json:"count"`
}

// Tracker holds period counters (reset at each flush) and lifetime
// counters (monotonic). Recording never blocks on persistence.
type Tracker struct {
	cfg    *config.StatsConfig
	store  storage.Store
	logger *logging.Logger

	mu        sync.Mutex
	period    counters
	lifetime  counters
	blockedBy map[string]*domainCount
	byReason  map[string]int

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewTracker creates a stats tracker
func NewTracker(cfg *config.StatsConfig, store storage.Store, logger *logging.Logger) *Tracker {
	return &Tracker{
		cfg:       cfg,
		store:     store,
		logger:    logger,
		blockedBy: make(map[string]*domainCount),
		byReason:  make(map[string]int),
		stopChan:  make(chan struct{}),
	}
}

// RecordQuery increments the period counters for one handled query
func (t *Tracker) RecordQuery(domain, verdict, reason, category string, cacheHit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.period.Total++
	t.lifetime.Total++
	t.byReason[reason]++

	if verdict == "block" {
		t.period.Blocked++
		t.lifetime.Blocked++
		dc, ok := t.blockedBy[domain]
		if !ok {
			dc = &domainCount{domain: domain, category: category}
			t.blockedBy[domain] = dc
		}
		dc.count++
	} else {
		t.period.Allowed++
		t.lifetime.Allowed++
	}

	if cacheHit {
		t.period.CacheHits++
		t.lifetime.CacheHits++
	}
}

// Summary returns period + lifetime counters and the period top-N
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	top := make([]domainCount, 0, len(t.blockedBy))
	for _, dc := range t.blockedBy {
		top = append(top, *dc)
	}
	sort.Slice(top, func(i, j int) bool { return top[i].count > top[j].count })

	n := t.cfg.TopDomains
	if n > len(top) {
		n = len(top)
	}
	topOut := make([]TopBlocked, 0, n)
	for _, dc := range top[:n] {
		topOut = append(topOut, TopBlocked{Domain: dc.domain, Count: dc.count})
	}

	byReason := make(map[string]int, len(t.byReason))
	for k, v := range t.byReason {
		byReason[k] = v
	}

	return Summary{
		Period:     t.period,
		Lifetime:   t.lifetime,
		TopBlocked: topOut,
		ByReason:   byReason,
	}
}

// Flush upserts period counters into the (UTC date, hour) row and the
// per-domain rolling rows, then zeroes the period plane. A zero period
// is a no-op.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	period := t.period
	blocked := t.blockedBy
	reasons := t.byReason
	if period.Total == 0 {
		t.mu.Unlock()
		return nil
	}
	t.period = counters{}
	t.blockedBy = make(map[string]*domainCount)
	t.byReason = make(map[string]int)
	t.mu.Unlock()

	now := time.Now().UTC()
	date := now.Format("2006-01-02")

	if err := t.store.AddQueryStats(ctx, date, now.Hour(),
		period.Total, period.Blocked, period.Allowed, period.CacheHits); err != nil {
		// Put the counters back so the next tick retries
		t.restore(period, blocked, reasons)
		return err
	}

	for _, dc := range blocked {
		if err := t.store.AddTopDomain(ctx, dc.domain, dc.category, dc.count, now); err != nil {
			t.logger.Error("Failed to flush top-domain row", "domain", dc.domain, "error", err)
		}
	}

	t.logger.Debug("Stats flushed",
		"total", period.Total,
		"blocked", period.Blocked,
		"cache_hits", period.CacheHits)
	return nil
}

func (t *Tracker) restore(period counters, blocked map[string]*domainCount, reasons map[string]int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.period.Total += period.Total
	t.period.Blocked += period.Blocked
	t.period.Allowed += period.Allowed
	t.period.CacheHits += period.CacheHits
	for domain, dc := range blocked {
		if existing, ok := t.blockedBy[domain]; ok {
			existing.count += dc.count
		} else {
			t.blockedBy[domain] = dc
		}
	}
	for reason, n := range reasons {
		t.byReason[reason] += n
	}
}

// Start begins the periodic flush loop
func (t *Tracker) Start(ctx context.Context) {
	t.stopChan = make(chan struct{})
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := t.Flush(ctx); err != nil {
					t.logger.Error("Stats flush failed", "error", err)
				}
			case <-t.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the flush loop and performs a final flush
func (t *Tracker) Stop(ctx context.Context) {
	close(t.stopChan)
	t.wg.Wait()
	if err := t.Flush(ctx); err != nil {
		t.logger.Error("Final stats flush failed", "error", err)
	}
}
