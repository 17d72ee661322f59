package guardian

import (
	"context"
	"time"

	"github.com/miekg/dns"

	"netwarden/pkg/blocklist"
	"netwarden/pkg/cache"
	"netwarden/pkg/resolver"
)

// healthProbeDomain resolves on effectively every network, so a failed
// probe means the upstream path is down, not the domain.
const healthProbeDomain = "example.com"

// Health is the daemon health report
type Health struct {
	Healthy        bool        `json:"healthy"`
	UpstreamOK     bool        `json:"upstream_ok"`
	ResolveOK      bool        `json:"resolve_ok"`
	BlocklistSize  int         `json:"blocklist_size"`
	CacheStats     cache.Stats `json:"cache_stats"`
	ResolveLatency string      `json:"resolve_latency,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// HealthChecker probes the resolver path and the in-memory indices
type HealthChecker struct {
	resolver  *resolver.Resolver
	blocklist *blocklist.Store
	cache     *cache.Cache
}

// NewHealthChecker creates a health checker
func NewHealthChecker(r *resolver.Resolver, b *blocklist.Store, c *cache.Cache) *HealthChecker {
	return &HealthChecker{resolver: r, blocklist: b, cache: c}
}

// Check resolves a known domain end to end and reports blocklist and
// cache state. Healthy requires a working upstream and a non-empty
// blocklist.
func (h *HealthChecker) Check(ctx context.Context) Health {
	report := Health{
		BlocklistSize: h.blocklist.Size(),
		CacheStats:    h.cache.Stats(),
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := h.resolver.Resolve(probeCtx, healthProbeDomain, dns.TypeA)
	if err != nil {
		report.Error = err.Error()
	} else {
		report.UpstreamOK = true
		report.ResolveOK = resp.Rcode == dns.RcodeSuccess
		report.ResolveLatency = time.Since(start).String()
	}

	report.Healthy = report.UpstreamOK && report.ResolveOK && report.BlocklistSize > 0
	return report
}
