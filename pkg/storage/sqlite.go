// Package storage contains the relational persistence layer; this file
// provides the SQLite implementation backing every table in the schema.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"netwarden/pkg/config"
)

//go:embed migrations/001_initial.sql
var initialSchema string

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) the database and applies migrations
func NewSQLiteStore(cfg *config.StorageConfig) (*SQLiteStore, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}

	db, err := sql.Open("sqlite", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if pingErr := db.Ping(); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, pingErr)
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout),
		fmt.Sprintf("PRAGMA cache_size = %d", -cfg.CacheSize), // negative means KB
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if cfg.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, pragmaErr := db.Exec(pragma); pragmaErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", pragmaErr)
		}
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// --- Blocklists ---

// UpsertBlocklist inserts or updates a blocklist source row keyed by name
func (s *SQLiteStore) UpsertBlocklist(ctx context.Context, list *Blocklist) (int64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guardian_blocklists (name, url, format, category, domain_count, is_enabled, last_updated, etag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			url = excluded.url,
			format = excluded.format,
			category = excluded.category,
			domain_count = excluded.domain_count,
			is_enabled = excluded.is_enabled,
			last_updated = excluded.last_updated,
			etag = excluded.etag
	`, list.Name, list.URL, list.Format, list.Category, list.DomainCount, list.IsEnabled,
		list.LastUpdated, nullString(list.ETag))
	if err != nil {
		return 0, fmt.Errorf("failed to upsert blocklist: %w", err)
	}

	var id int64
	row := s.db.QueryRowContext(ctx, `SELECT id FROM guardian_blocklists WHERE name = ?`, list.Name)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read blocklist id: %w", err)
	}
	list.ID = id
	return id, nil
}

// ListBlocklists returns all registered blocklist sources
func (s *SQLiteStore) ListBlocklists(ctx context.Context) ([]*Blocklist, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, url, format, category, domain_count, is_enabled,
		       COALESCE(last_updated, ''), COALESCE(etag, '')
		FROM guardian_blocklists ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocklists: %w", err)
	}
	defer rows.Close()

	var lists []*Blocklist
	for rows.Next() {
		var l Blocklist
		var updated string
		if err := rows.Scan(&l.ID, &l.Name, &l.URL, &l.Format, &l.Category,
			&l.DomainCount, &l.IsEnabled, &updated, &l.ETag); err != nil {
			return nil, fmt.Errorf("failed to scan blocklist: %w", err)
		}
		l.LastUpdated = parseTime(updated)
		lists = append(lists, &l)
	}
	return lists, rows.Err()
}

// ReplaceBlockedDomains atomically rewrites the domain set belonging to one source
func (s *SQLiteStore) ReplaceBlockedDomains(ctx context.Context, blocklistID int64, domains []BlockedDomain) error {
	if err := s.guard(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM guardian_blocked_domains WHERE blocklist_id = ?`, blocklistID); err != nil {
		return fmt.Errorf("failed to clear blocked domains: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO guardian_blocked_domains (domain, blocklist_id, category)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range domains {
		if _, err := stmt.ExecContext(ctx, d.Domain, blocklistID, d.Category); err != nil {
			return fmt.Errorf("failed to insert blocked domain %q: %w", d.Domain, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE guardian_blocklists SET domain_count = ?, last_updated = ? WHERE id = ?`,
		len(domains), time.Now().UTC(), blocklistID); err != nil {
		return fmt.Errorf("failed to update blocklist counters: %w", err)
	}

	return tx.Commit()
}

// LoadBlockedDomains returns the union of all persisted blocked domains
func (s *SQLiteStore) LoadBlockedDomains(ctx context.Context) ([]BlockedDomain, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, blocklist_id, category FROM guardian_blocked_domains`)
	if err != nil {
		return nil, fmt.Errorf("failed to load blocked domains: %w", err)
	}
	defer rows.Close()

	var domains []BlockedDomain
	for rows.Next() {
		var d BlockedDomain
		if err := rows.Scan(&d.Domain, &d.BlocklistID, &d.Category); err != nil {
			return nil, fmt.Errorf("failed to scan blocked domain: %w", err)
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

// --- Custom rules ---

// InsertCustomRule persists a new user rule
func (s *SQLiteStore) InsertCustomRule(ctx context.Context, rule *CustomRule) error {
	if err := s.guard(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guardian_custom_rules (id, action, domain, category, reason, hit_count, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rule.ID, rule.Action, rule.Domain, rule.Category, rule.Reason, rule.HitCount, rule.IsActive, rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert custom rule: %w", err)
	}
	return nil
}

// DeactivateCustomRule soft-deletes a rule by clearing its active flag
func (s *SQLiteStore) DeactivateCustomRule(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE guardian_custom_rules SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCustomRules returns user rules, optionally filtered to active ones
func (s *SQLiteStore) ListCustomRules(ctx context.Context, activeOnly bool) ([]*CustomRule, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	query := `SELECT id, action, domain, category, reason, hit_count, is_active, created_at
	          FROM guardian_custom_rules`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list custom rules: %w", err)
	}
	defer rows.Close()

	var rules []*CustomRule
	for rows.Next() {
		var r CustomRule
		var created string
		if err := rows.Scan(&r.ID, &r.Action, &r.Domain, &r.Category, &r.Reason,
			&r.HitCount, &r.IsActive, &created); err != nil {
			return nil, fmt.Errorf("failed to scan custom rule: %w", err)
		}
		r.CreatedAt = parseTime(created)
		rules = append(rules, &r)
	}
	return rules, rows.Err()
}

// IncrementRuleHit bumps the hit counter of a rule, best-effort
func (s *SQLiteStore) IncrementRuleHit(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE guardian_custom_rules SET hit_count = hit_count + 1 WHERE id = ?`, id)
	return err
}

// --- Query statistics ---

// AddQueryStats adds period counters into the (date, hour) row
func (s *SQLiteStore) AddQueryStats(ctx context.Context, date string, hour int, total, blocked, allowed, cacheHits int64) error {
	if err := s.guard(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guardian_query_stats (date, hour, total_queries, blocked_queries, allowed_queries, cache_hits)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, hour) DO UPDATE SET
			total_queries = total_queries + excluded.total_queries,
			blocked_queries = blocked_queries + excluded.blocked_queries,
			allowed_queries = allowed_queries + excluded.allowed_queries,
			cache_hits = cache_hits + excluded.cache_hits
	`, date, hour, total, blocked, allowed, cacheHits)
	if err != nil {
		return fmt.Errorf("failed to upsert query stats: %w", err)
	}
	return nil
}

// GetQueryStats returns hourly rows from sinceDate (inclusive) onwards
func (s *SQLiteStore) GetQueryStats(ctx context.Context, sinceDate string) ([]*QueryHourStats, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, hour, total_queries, blocked_queries, allowed_queries, cache_hits
		FROM guardian_query_stats WHERE date >= ? ORDER BY date, hour
	`, sinceDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	var stats []*QueryHourStats
	for rows.Next() {
		var q QueryHourStats
		if err := rows.Scan(&q.ID, &q.Date, &q.Hour, &q.TotalQueries,
			&q.BlockedQueries, &q.AllowedQueries, &q.CacheHits); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats = append(stats, &q)
	}
	return stats, rows.Err()
}

// AddTopDomain adds a period block count into the rolling per-domain row
func (s *SQLiteStore) AddTopDomain(ctx context.Context, domain, category string, count int64, lastBlocked time.Time) error {
	if err := s.guard(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guardian_top_domains (domain, block_count, category, last_blocked)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			block_count = block_count + excluded.block_count,
			category = excluded.category,
			last_blocked = excluded.last_blocked
	`, domain, count, category, lastBlocked)
	if err != nil {
		return fmt.Errorf("failed to upsert top domain: %w", err)
	}
	return nil
}

// TopBlockedDomains returns the most-blocked domains in descending order
func (s *SQLiteStore) TopBlockedDomains(ctx context.Context, limit int) ([]*TopDomain, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, block_count, category, COALESCE(last_blocked, '')
		FROM guardian_top_domains ORDER BY block_count DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top domains: %w", err)
	}
	defer rows.Close()

	var domains []*TopDomain
	for rows.Next() {
		var d TopDomain
		var last string
		if err := rows.Scan(&d.Domain, &d.BlockCount, &d.Category, &last); err != nil {
			return nil, fmt.Errorf("failed to scan top domain: %w", err)
		}
		d.LastBlocked = parseTime(last)
		domains = append(domains, &d)
	}
	return domains, rows.Err()
}

// --- Threat feeds ---

// UpsertThreatFeed registers a feed or refreshes its URL/type/enabled flag
func (s *SQLiteStore) UpsertThreatFeed(ctx context.Context, feed *ThreatFeed) error {
	if err := s.guard(); err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threat_feeds (name, feed_url, feed_type, enabled, entries_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			feed_url = excluded.feed_url,
			feed_type = excluded.feed_type,
			updated_at = excluded.updated_at
	`, feed.Name, feed.FeedURL, feed.FeedType, feed.Enabled, feed.EntriesCount, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert threat feed: %w", err)
	}
	return nil
}

func scanThreatFeed(scanner interface{ Scan(...any) error }) (*ThreatFeed, error) {
	var f ThreatFeed
	var synced, created, updated string
	if err := scanner.Scan(&f.ID, &f.Name, &f.FeedURL, &f.FeedType, &f.Enabled,
		&synced, &f.EntriesCount, &created, &updated); err != nil {
		return nil, err
	}
	if synced != "" {
		t := parseTime(synced)
		f.LastSyncedAt = &t
	}
	f.CreatedAt = parseTime(created)
	f.UpdatedAt = parseTime(updated)
	return &f, nil
}

// ListThreatFeeds returns all registered feeds
func (s *SQLiteStore) ListThreatFeeds(ctx context.Context) ([]*ThreatFeed, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, feed_url, feed_type, enabled, COALESCE(last_synced_at, ''),
		       entries_count, created_at, updated_at
		FROM threat_feeds ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list threat feeds: %w", err)
	}
	defer rows.Close()

	var feeds []*ThreatFeed
	for rows.Next() {
		f, err := scanThreatFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan threat feed: %w", err)
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// GetThreatFeed returns a single feed by name
func (s *SQLiteStore) GetThreatFeed(ctx context.Context, name string) (*ThreatFeed, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, feed_url, feed_type, enabled, COALESCE(last_synced_at, ''),
		       entries_count, created_at, updated_at
		FROM threat_feeds WHERE name = ?
	`, name)

	f, err := scanThreatFeed(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get threat feed: %w", err)
	}
	return f, nil
}

// MarkThreatFeedSynced records a completed sync cycle for a feed
func (s *SQLiteStore) MarkThreatFeedSynced(ctx context.Context, name string, at time.Time, entries int) error {
	if err := s.guard(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE threat_feeds SET last_synced_at = ?, entries_count = ?, updated_at = ? WHERE name = ?
	`, at, entries, time.Now().UTC(), name)
	return err
}

// --- Threat indicators ---

// GetIndicatorByHash returns an indicator by its subnet hash, expired or not
func (s *SQLiteStore) GetIndicatorByHash(ctx context.Context, subnetHash string) (*ThreatIndicator, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, subnet_hash, COALESCE(subnet_prefix, ''), threat_score,
		       source_feeds, indicator_types, COALESCE(cve_refs, '[]'),
		       first_seen, last_seen, report_count, expires_at
		FROM threat_indicators WHERE subnet_hash = ?
	`, subnetHash)

	ind, err := scanIndicator(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get indicator: %w", err)
	}
	return ind, nil
}

func scanIndicator(scanner interface{ Scan(...any) error }) (*ThreatIndicator, error) {
	var ind ThreatIndicator
	var feeds, types, cves string
	var first, last, expires string
	if err := scanner.Scan(&ind.ID, &ind.SubnetHash, &ind.SubnetPrefix, &ind.ThreatScore,
		&feeds, &types, &cves, &first, &last, &ind.ReportCount, &expires); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(feeds), &ind.SourceFeeds)
	_ = json.Unmarshal([]byte(types), &ind.IndicatorTypes)
	_ = json.Unmarshal([]byte(cves), &ind.CVERefs)
	ind.FirstSeen = parseTime(first)
	ind.LastSeen = parseTime(last)
	ind.ExpiresAt = parseTime(expires)
	return &ind, nil
}

// SaveIndicators upserts a batch of indicators inside one transaction.
// The ingestor calls this once per feed with pre-merged rows.
func (s *SQLiteStore) SaveIndicators(ctx context.Context, indicators []*ThreatIndicator) error {
	if err := s.guard(); err != nil {
		return err
	}
	if len(indicators) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO threat_indicators
			(subnet_hash, subnet_prefix, threat_score, source_feeds, indicator_types,
			 cve_refs, first_seen, last_seen, report_count, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subnet_hash) DO UPDATE SET
			subnet_prefix = excluded.subnet_prefix,
			threat_score = excluded.threat_score,
			source_feeds = excluded.source_feeds,
			indicator_types = excluded.indicator_types,
			cve_refs = excluded.cve_refs,
			last_seen = excluded.last_seen,
			report_count = excluded.report_count,
			expires_at = excluded.expires_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare indicator upsert: %w", err)
	}
	defer stmt.Close()

	for _, ind := range indicators {
		feeds, _ := json.Marshal(ind.SourceFeeds)
		types, _ := json.Marshal(ind.IndicatorTypes)
		cves, _ := json.Marshal(ind.CVERefs)

		if _, err := stmt.ExecContext(ctx,
			ind.SubnetHash, nullString(ind.SubnetPrefix), ind.ThreatScore,
			string(feeds), string(types), string(cves),
			ind.FirstSeen, ind.LastSeen, ind.ReportCount, ind.ExpiresAt); err != nil {
			return fmt.Errorf("failed to upsert indicator: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteExpiredIndicators removes rows past their retention window
func (s *SQLiteStore) DeleteExpiredIndicators(ctx context.Context, now time.Time) (int64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM threat_indicators WHERE expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired indicators: %w", err)
	}
	return res.RowsAffected()
}

// HighScoreIndicators returns unexpired indicators at or above minScore
func (s *SQLiteStore) HighScoreIndicators(ctx context.Context, minScore float64, now time.Time) ([]*ThreatIndicator, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subnet_hash, COALESCE(subnet_prefix, ''), threat_score,
		       source_feeds, indicator_types, COALESCE(cve_refs, '[]'),
		       first_seen, last_seen, report_count, expires_at
		FROM threat_indicators WHERE threat_score >= ? AND expires_at > ?
		ORDER BY threat_score DESC
	`, minScore, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query high-score indicators: %w", err)
	}
	defer rows.Close()

	var indicators []*ThreatIndicator
	for rows.Next() {
		ind, err := scanIndicator(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan indicator: %w", err)
		}
		indicators = append(indicators, ind)
	}
	return indicators, rows.Err()
}

// ThreatStats summarises the indicator table
func (s *SQLiteStore) ThreatStats(ctx context.Context) (*ThreatStats, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	var st ThreatStats
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN threat_score >= 0.7 THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(threat_score), 0)
		FROM threat_indicators
	`)
	if err := row.Scan(&st.TotalIndicators, &st.HighScore, &st.AvgScore); err != nil {
		return nil, fmt.Errorf("failed to aggregate threat stats: %w", err)
	}

	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM threat_feeds`)
	if err := row.Scan(&st.FeedCount); err != nil {
		return nil, fmt.Errorf("failed to count feeds: %w", err)
	}
	return &st, nil
}

// --- Firewall rules ---

// InsertFirewallRule persists a new firewall rule
func (s *SQLiteStore) InsertFirewallRule(ctx context.Context, rule *FirewallRule) error {
	if err := s.guard(); err != nil {
		return err
	}

	var expires any
	if rule.ExpiresAt != nil {
		expires = *rule.ExpiresAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO firewall_rules
			(id, type, target, direction, protocol, source, reason, is_active, created_at, expires_at, hit_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rule.ID, rule.Type, rule.Target, rule.Direction, rule.Protocol, rule.Source,
		rule.Reason, rule.IsActive, rule.CreatedAt, expires, rule.HitCount)
	if err != nil {
		return fmt.Errorf("failed to insert firewall rule: %w", err)
	}
	return nil
}

func scanFirewallRule(scanner interface{ Scan(...any) error }) (*FirewallRule, error) {
	var r FirewallRule
	var created, expires string
	if err := scanner.Scan(&r.ID, &r.Type, &r.Target, &r.Direction, &r.Protocol,
		&r.Source, &r.Reason, &r.IsActive, &created, &expires, &r.HitCount); err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(created)
	if expires != "" {
		t := parseTime(expires)
		r.ExpiresAt = &t
	}
	return &r, nil
}

// ListFirewallRules returns firewall rules, optionally only active ones
func (s *SQLiteStore) ListFirewallRules(ctx context.Context, activeOnly bool) ([]*FirewallRule, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	query := `SELECT id, type, target, direction, protocol, source, reason, is_active,
	                 created_at, COALESCE(expires_at, ''), hit_count
	          FROM firewall_rules`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list firewall rules: %w", err)
	}
	defer rows.Close()

	var rules []*FirewallRule
	for rows.Next() {
		r, err := scanFirewallRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan firewall rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// GetFirewallRule returns a single rule by id
func (s *SQLiteStore) GetFirewallRule(ctx context.Context, id string) (*FirewallRule, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, target, direction, protocol, source, reason, is_active,
		       created_at, COALESCE(expires_at, ''), hit_count
		FROM firewall_rules WHERE id = ?
	`, id)

	r, err := scanFirewallRule(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get firewall rule: %w", err)
	}
	return r, nil
}

// SetFirewallRuleActive toggles a rule's active flag
func (s *SQLiteStore) SetFirewallRuleActive(ctx context.Context, id string, active bool) error {
	if err := s.guard(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE firewall_rules SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("failed to toggle firewall rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFirewallRule removes a rule
func (s *SQLiteStore) DeleteFirewallRule(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM firewall_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete firewall rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FirewallRuleExists reports whether a (type, target) pair is already present
func (s *SQLiteStore) FirewallRuleExists(ctx context.Context, ruleType, target string) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}

	var count int
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM firewall_rules WHERE type = ? AND target = ?`, ruleType, target)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check firewall rule: %w", err)
	}
	return count > 0, nil
}

// IncrementFirewallRuleHit bumps the hit counter of a rule, best-effort
func (s *SQLiteStore) IncrementFirewallRuleHit(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE firewall_rules SET hit_count = hit_count + 1 WHERE id = ?`, id)
	return err
}

// --- Firewall events ---

// InsertFirewallEvent records a rule-set mutation or adapter action
func (s *SQLiteStore) InsertFirewallEvent(ctx context.Context, event *FirewallEvent) error {
	if err := s.guard(); err != nil {
		return err
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO firewall_events (action, rule_id, target, detail, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, event.Action, nullString(event.RuleID), nullString(event.Target),
		nullString(event.Detail), event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert firewall event: %w", err)
	}
	return nil
}

// ListFirewallEvents returns the most recent events
func (s *SQLiteStore) ListFirewallEvents(ctx context.Context, limit int) ([]*FirewallEvent, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, COALESCE(rule_id, ''), COALESCE(target, ''), COALESCE(detail, ''), timestamp
		FROM firewall_events ORDER BY timestamp DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list firewall events: %w", err)
	}
	defer rows.Close()

	var events []*FirewallEvent
	for rows.Next() {
		var e FirewallEvent
		var ts string
		if err := rows.Scan(&e.ID, &e.Action, &e.RuleID, &e.Target, &e.Detail, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan firewall event: %w", err)
		}
		e.Timestamp = parseTime(ts)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// DailyFirewallStats aggregates events per calendar day over the window
func (s *SQLiteStore) DailyFirewallStats(ctx context.Context, days int) ([]*DailyFirewallStat, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx, `
		SELECT DATE(timestamp), COUNT(*),
		       SUM(CASE WHEN action = 'rule_added' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN action IN ('threat_sync', 'port_sync') THEN 1 ELSE 0 END)
		FROM firewall_events WHERE timestamp >= ?
		GROUP BY DATE(timestamp) ORDER BY DATE(timestamp)
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate firewall events: %w", err)
	}
	defer rows.Close()

	var stats []*DailyFirewallStat
	for rows.Next() {
		var d DailyFirewallStat
		if err := rows.Scan(&d.Date, &d.Events, &d.Adds, &d.Syncs); err != nil {
			return nil, fmt.Errorf("failed to scan daily stat: %w", err)
		}
		stats = append(stats, &d)
	}
	return stats, rows.Err()
}

// --- helpers ---

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// parseTime handles the timestamp formats SQLite hands back for DATETIME columns.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
