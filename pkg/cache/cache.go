// Package cache provides a TTL-aware LRU cache for DNS wire responses.
package cache

import (
	"fmt"
	"sync"
	"time"

	"netwarden/pkg/config"
	"netwarden/pkg/logging"
)

// Cache is a thread-safe DNS response cache with LRU eviction and TTL expiry.
// Keys are "fqdn:qtype"; values are the serialised wire response.
type Cache struct {
	logger     *logging.Logger
	entries    map[string]*entry
	maxEntries int
	stats      cacheStats
	mu         sync.Mutex
}

// entry holds a cached wire response with metadata
type entry struct {
	data       []byte
	expiresAt  time.Time
	lastAccess time.Time
	recordType uint16
}

type cacheStats struct {
	hits      uint64
	misses    uint64
	evictions uint64
}

// Stats is a snapshot of cache performance counters
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Size      int     `json:"size"`
	HitRate   float64 `json:"hit_rate"`
}

// Key builds the canonical cache key from an FQDN and query type
func Key(fqdn string, qtype uint16) string {
	return fmt.Sprintf("%s:%d", fqdn, qtype)
}

// New creates a new DNS cache with the given configuration
func New(cfg *config.CacheConfig, logger *logging.Logger) (*Cache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cache config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.MaxEntries <= 0 {
		return nil, fmt.Errorf("max_entries must be positive, got %d", cfg.MaxEntries)
	}

	c := &Cache{
		logger:     logger,
		entries:    make(map[string]*entry, cfg.MaxEntries),
		maxEntries: cfg.MaxEntries,
	}

	logger.Info("DNS cache initialized", "max_entries", cfg.MaxEntries)
	return c, nil
}

// Get returns the cached wire response for key, or nil on miss.
// An expired entry is removed and reported as a miss.
func (c *Cache) Get(key string) []byte {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found {
		c.stats.misses++
		return nil
	}

	if !now.Before(e.expiresAt) {
		delete(c.entries, key)
		c.stats.misses++
		return nil
	}

	e.lastAccess = now
	c.stats.hits++

	// Return a copy so callers can rewrite the transaction ID
	data := make([]byte, len(e.data))
	copy(data, e.data)
	return data
}

// Set stores a wire response under key with the given TTL, evicting LRU
// entries as needed. A zero TTL is valid and expires on the next read.
func (c *Cache) Set(key string, data []byte, ttl time.Duration, recordType uint16) {
	now := time.Now()
	stored := make([]byte, len(data))
	copy(stored, data)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.maxEntries {
			c.evictLRU()
		}
	}

	c.entries[key] = &entry{
		data:       stored,
		expiresAt:  now.Add(ttl),
		lastAccess: now,
		recordType: recordType,
	}
}

// evictLRU removes the least recently used entry.
// Must be called with the lock held.
func (c *Cache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for key, e := range c.entries {
		if oldestKey == "" || e.lastAccess.Before(oldestTime) {
			oldestKey = key
			oldestTime = e.lastAccess
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.stats.evictions++
	}
}

// Purge removes expired entries and returns how many were dropped
func (c *Cache) Purge() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	c.stats.evictions += uint64(removed)
	return removed
}

// Clear removes all entries
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry, c.maxEntries)
}

// Stats returns current cache statistics
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.stats.hits + c.stats.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.stats.hits) / float64(total)
	}

	return Stats{
		Hits:      c.stats.hits,
		Misses:    c.stats.misses,
		Evictions: c.stats.evictions,
		Size:      len(c.entries),
		HitRate:   hitRate,
	}
}
