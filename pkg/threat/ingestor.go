package threat

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"netwarden/pkg/config"
	"netwarden/pkg/logging"
	"netwarden/pkg/storage"
	"netwarden/pkg/telemetry"
	"netwarden/pkg/threat/feeds"
)

// Ingestor schedules feed parsers, aggregates their indicators to /24
// subnets, scores them, and upserts the result.
type Ingestor struct {
	cfg     *config.ThreatConfig
	store   storage.Store
	parsers []feeds.Parser
	client  *http.Client
	metrics *telemetry.Metrics
	logger  *logging.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// subnetGroup collects everything observed for one /24 during a sync
type subnetGroup struct {
	subnet string
	ips    []string
	types  map[string]struct{}
	feeds  map[string]struct{}
}

// NewIngestor creates a threat ingestor over the given parsers. When no
// HMAC key is configured a deterministic derived key is used so hashes
// stay stable across restarts.
func NewIngestor(cfg *config.ThreatConfig, store storage.Store, parsers []feeds.Parser,
	m *telemetry.Metrics, logger *logging.Logger) *Ingestor {
	if cfg.HMACKey == "" {
		cfg.HMACKey = DeriveDefaultKey()
	}
	return &Ingestor{
		cfg:     cfg,
		store:   store,
		parsers: parsers,
		client:  &http.Client{Timeout: cfg.FeedTimeout},
		metrics: m,
		logger:  logger,
	}
}

// DefaultParsers returns the standard parser set
func DefaultParsers(cfg *config.ThreatConfig, reputationKey string) []feeds.Parser {
	return []feeds.Parser{
		feeds.NewIPListFeed(feeds.NameCINS,
			"https://cinsscore.com/list/ci-badguys.txt", "malicious"),
		feeds.NewIPListFeed(feeds.NameFireHOL,
			"https://raw.githubusercontent.com/firehol/blocklist-ipsets/master/firehol_level1.netset", "malicious"),
		feeds.NewThreatFoxFeed("https://threatfox-api.abuse.ch/api/v1/", 1),
		feeds.NewURLhausFeed("https://urlhaus-api.abuse.ch/v1/urls/recent/"),
		feeds.NewOTXFeed("https://otx.alienvault.com/api/v1/pulses/subscribed", cfg.OTXAPIKey),
		feeds.NewAbuseIPDBFeed("https://api.abuseipdb.com/api/v2/blacklist", reputationKey, 90),
	}
}

// SyncAll runs one full ingest cycle: registry upkeep, per-feed fetch
// and upsert, then the retention sweep. Feed failures are recorded and
// do not abort the remaining feeds.
func (i *Ingestor) SyncAll(ctx context.Context) error {
	if err := i.ensureRegistry(ctx); err != nil {
		return err
	}

	for _, parser := range i.parsers {
		feed, err := i.store.GetThreatFeed(ctx, parser.Name())
		if err != nil {
			i.logger.Error("Failed to load feed registry row", "feed", parser.Name(), "error", err)
			continue
		}
		if !feed.Enabled {
			continue
		}
		if err := i.SyncFeed(ctx, parser); err != nil {
			if errors.Is(err, feeds.ErrNoAPIKey) {
				i.logger.Debug("Skipping feed without API key", "feed", parser.Name())
				continue
			}
			i.logger.Error("Feed sync failed", "feed", parser.Name(), "error", err)
			if i.metrics != nil {
				i.metrics.ThreatFeedErrors.Add(ctx, 1)
			}
		}
	}

	deleted, err := i.store.DeleteExpiredIndicators(ctx, time.Now())
	if err != nil {
		i.logger.Error("Retention sweep failed", "error", err)
	} else if deleted > 0 {
		i.logger.Info("Expired indicators removed", "count", deleted)
	}
	return nil
}

// SyncFeed fetches one feed and upserts its aggregated subnets
func (i *Ingestor) SyncFeed(ctx context.Context, parser feeds.Parser) error {
	fetchCtx, cancel := context.WithTimeout(ctx, i.cfg.FeedTimeout)
	defer cancel()

	raw, err := parser.Fetch(fetchCtx, i.client)
	if err != nil {
		return err
	}

	groups := i.groupBySubnet(raw)
	now := time.Now()
	expiry := now.Add(time.Duration(i.cfg.ExpiryDays) * 24 * time.Hour)

	batch := make([]*storage.ThreatIndicator, 0, len(groups))
	for _, group := range groups {
		row, err := i.mergeGroup(ctx, group, now, expiry)
		if err != nil {
			i.logger.Error("Failed to merge subnet", "subnet", group.subnet, "error", err)
			continue
		}
		batch = append(batch, row)
	}

	if err := i.store.SaveIndicators(ctx, batch); err != nil {
		return err
	}

	if err := i.store.MarkThreatFeedSynced(ctx, parser.Name(), now, len(raw)); err != nil {
		i.logger.Error("Failed to mark feed synced", "feed", parser.Name(), "error", err)
	}

	if i.metrics != nil {
		i.metrics.ThreatIndicatorsIngested.Add(ctx, int64(len(batch)))
	}
	i.logger.Info("Feed synced",
		"feed", parser.Name(),
		"indicators", len(raw),
		"subnets", len(batch))
	return nil
}

// groupBySubnet collapses raw per-IP indicators into per-/24 groups
func (i *Ingestor) groupBySubnet(raw []feeds.Indicator) []*subnetGroup {
	bySubnet := make(map[string]*subnetGroup)
	for _, ind := range raw {
		subnet := SubnetOf(ind.IP)
		if subnet == "" {
			continue
		}
		group, ok := bySubnet[subnet]
		if !ok {
			group = &subnetGroup{
				subnet: subnet,
				types:  make(map[string]struct{}),
				feeds:  make(map[string]struct{}),
			}
			bySubnet[subnet] = group
		}
		group.ips = append(group.ips, ind.IP)
		if ind.Type != "" {
			group.types[ind.Type] = struct{}{}
		}
		group.feeds[ind.SourceFeed] = struct{}{}
	}

	groups := make([]*subnetGroup, 0, len(bySubnet))
	for _, group := range bySubnet {
		groups = append(groups, group)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].subnet < groups[b].subnet })
	return groups
}

// mergeGroup folds a sync group into the existing row, if any. Merging
// never reduces report_count, never moves last_seen backwards, and never
// shortens expires_at.
func (i *Ingestor) mergeGroup(ctx context.Context, group *subnetGroup, now, expiry time.Time) (*storage.ThreatIndicator, error) {
	hash := HashSubnet(i.cfg.HMACKey, group.subnet)

	prefix := ""
	if len(group.ips) > 0 && IsPrivate(group.ips[0]) {
		prefix = group.subnet
	}

	existing, err := i.store.GetIndicatorByHash(ctx, hash)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if existing == nil {
		feedSet := setToSlice(group.feeds)
		typeSet := setToSlice(group.types)
		return &storage.ThreatIndicator{
			SubnetHash:     hash,
			SubnetPrefix:   prefix,
			ThreatScore:    Score(feedSet, typeSet),
			SourceFeeds:    feedSet,
			IndicatorTypes: typeSet,
			FirstSeen:      now,
			LastSeen:       now,
			ReportCount:    1,
			ExpiresAt:      expiry,
		}, nil
	}

	feedSet := mergeSets(existing.SourceFeeds, group.feeds)
	typeSet := mergeSets(existing.IndicatorTypes, group.types)

	merged := *existing
	merged.SourceFeeds = feedSet
	merged.IndicatorTypes = typeSet
	merged.ThreatScore = Score(feedSet, typeSet)
	merged.ReportCount = existing.ReportCount + 1
	if now.After(merged.LastSeen) {
		merged.LastSeen = now
	}
	if expiry.After(merged.ExpiresAt) {
		merged.ExpiresAt = expiry
	}
	if merged.SubnetPrefix == "" {
		merged.SubnetPrefix = prefix
	}
	return &merged, nil
}

// Lookup resolves the current indicator for an IP, or ErrNotFound when
// no unexpired row exists.
func (i *Ingestor) Lookup(ctx context.Context, ip string) (*storage.ThreatIndicator, error) {
	subnet := SubnetOf(ip)
	if subnet == "" {
		return nil, storage.ErrNotFound
	}
	row, err := i.store.GetIndicatorByHash(ctx, HashSubnet(i.cfg.HMACKey, subnet))
	if err != nil {
		return nil, err
	}
	if !row.ExpiresAt.After(time.Now()) {
		return nil, storage.ErrNotFound
	}
	return row, nil
}

// ensureRegistry upserts a registry row for every known parser
func (i *Ingestor) ensureRegistry(ctx context.Context) error {
	for _, parser := range i.parsers {
		feed := &storage.ThreatFeed{
			Name:     parser.Name(),
			FeedURL:  parser.URL(),
			FeedType: parser.FeedType(),
			Enabled:  true,
		}
		if err := i.store.UpsertThreatFeed(ctx, feed); err != nil {
			return err
		}
	}
	return nil
}

// Start begins the periodic sync loop, running one sync immediately
func (i *Ingestor) Start(ctx context.Context) {
	i.stopChan = make(chan struct{})
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()

		if err := i.SyncAll(ctx); err != nil {
			i.logger.Error("Initial threat sync failed", "error", err)
		}

		ticker := time.NewTicker(i.cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := i.SyncAll(ctx); err != nil {
					i.logger.Error("Threat sync failed", "error", err)
				}
			case <-i.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sync loop
func (i *Ingestor) Stop() {
	if i.stopChan != nil {
		close(i.stopChan)
	}
	i.wg.Wait()
}

// Parser returns the parser registered under name, or nil
func (i *Ingestor) Parser(name string) feeds.Parser {
	for _, p := range i.parsers {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for item := range set {
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

func mergeSets(existing []string, incoming map[string]struct{}) []string {
	set := make(map[string]struct{}, len(existing)+len(incoming))
	for _, item := range existing {
		set[item] = struct{}{}
	}
	for item := range incoming {
		set[item] = struct{}{}
	}
	return setToSlice(set)
}
