// Package dnsserver contains the UDP/TCP DNS front end: cache lookup,
// policy decision, sinkhole synthesis, and upstream resolution.
package dnsserver

import (
	"context"
	"net"
	"time"

	"github.com/miekg/dns"

	"netwarden/pkg/blocklist"
	"netwarden/pkg/cache"
	"netwarden/pkg/config"
	"netwarden/pkg/decision"
	"netwarden/pkg/logging"
	"netwarden/pkg/rules"
	"netwarden/pkg/stats"
	"netwarden/pkg/telemetry"
)

// Upstream resolves queries the handler cannot answer locally. Close
// releases any client connections at shutdown.
type Upstream interface {
	Exchange(ctx context.Context, q *dns.Msg) (*dns.Msg, error)
	Close()
}

// Handler orchestrates a single query: cache, decide, resolve, cache, stats
type Handler struct {
	cfg      *config.DNSConfig
	cacheTTL time.Duration

	Cache    *cache.Cache
	Engine   *decision.Engine
	Rules    *rules.Store
	Resolver Upstream
	Stats    *stats.Tracker
	Metrics  *telemetry.Metrics
	Logger   *logging.Logger
}

// NewHandler creates a DNS handler
func NewHandler(cfg *config.DNSConfig, cacheTTL time.Duration, c *cache.Cache, e *decision.Engine,
	r *rules.Store, up Upstream, st *stats.Tracker, m *telemetry.Metrics, logger *logging.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		cacheTTL: cacheTTL,
		Cache:    c,
		Engine:   e,
		Rules:    r,
		Resolver: up,
		Stats:    st,
		Metrics:  m,
		Logger:   logger,
	}
}

// ServeDNS implements dns.Handler
func (h *Handler) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	ctx := context.Background()
	startTime := time.Now()

	if len(r.Question) == 0 {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeFormatError)
		h.writeMsg(w, m)
		return
	}

	question := r.Question[0]
	fqdn := blocklist.Normalize(question.Name)
	qtype := question.Qtype
	key := cache.Key(fqdn, qtype)

	if h.Metrics != nil {
		h.Metrics.DNSQueriesTotal.Add(ctx, 1)
	}

	// Cache lookup: clone the stored response, rewrite the transaction ID
	if data := h.Cache.Get(key); data != nil {
		resp := new(dns.Msg)
		unpackErr := resp.Unpack(data)
		if unpackErr == nil {
			resp.Id = r.Id
			h.Stats.RecordQuery(fqdn, decision.VerdictAllow, "cache_hit", "", true)
			if h.Metrics != nil {
				h.Metrics.DNSCacheHits.Add(ctx, 1)
			}
			h.writeMsg(w, resp)
			h.observeDuration(ctx, startTime)
			return
		}
		// Corrupt entry: treat as a miss
		h.Logger.Warn("Dropping unparseable cache entry", "key", key, "error", unpackErr)
	}

	d := h.Engine.Decide(fqdn)
	if d.Block() {
		resp := h.sinkholeResponse(r, question)
		if d.RuleID != "" {
			h.Rules.IncrementHit(ctx, d.RuleID)
		}
		h.Stats.RecordQuery(fqdn, decision.VerdictBlock, d.Reason, d.Category, false)
		if h.Metrics != nil {
			h.Metrics.DNSBlockedQueries.Add(ctx, 1)
		}
		h.Logger.Debug("Query blocked", "domain", fqdn, "reason", d.Reason, "category", d.Category)
		h.writeMsg(w, resp)
		h.observeDuration(ctx, startTime)
		return
	}

	resp, err := h.Resolver.Exchange(ctx, r)
	if err != nil {
		h.Logger.Warn("Upstream resolution failed", "domain", fqdn, "error", err)
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeServerFailure)
		h.Stats.RecordQuery(fqdn, decision.VerdictAllow, "upstream_error", "", false)
		if h.Metrics != nil {
			h.Metrics.DNSUpstreamErrors.Add(ctx, 1)
		}
		h.writeMsg(w, m)
		h.observeDuration(ctx, startTime)
		return
	}

	resp.Id = r.Id
	if data, packErr := resp.Pack(); packErr == nil {
		h.Cache.Set(key, data, h.responseTTL(resp), qtype)
	}

	h.Stats.RecordQuery(fqdn, decision.VerdictAllow, d.Reason, "", false)
	if h.Metrics != nil {
		h.Metrics.DNSForwardedQueries.Add(ctx, 1)
	}
	h.writeMsg(w, resp)
	h.observeDuration(ctx, startTime)
}

// sinkholeResponse builds the synthetic A answer pointing at the sinkhole IP
func (h *Handler) sinkholeResponse(r *dns.Msg, question dns.Question) *dns.Msg {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true
	m.RecursionAvailable = true

	if question.Qtype == dns.TypeA || question.Qtype == dns.TypeANY {
		m.Answer = append(m.Answer, &dns.A{
			Hdr: dns.RR_Header{
				Name:   question.Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    h.cfg.SinkholeTTL,
			},
			A: net.ParseIP(h.cfg.SinkholeIP).To4(),
		})
	}
	return m
}

// responseTTL returns min(answer TTLs, configured default)
func (h *Handler) responseTTL(resp *dns.Msg) time.Duration {
	ttl := h.cacheTTL
	for _, rr := range resp.Answer {
		answerTTL := time.Duration(rr.Header().Ttl) * time.Second
		if answerTTL < ttl {
			ttl = answerTTL
		}
	}
	return ttl
}

func (h *Handler) observeDuration(ctx context.Context, startTime time.Time) {
	if h.Metrics != nil {
		h.Metrics.DNSQueryDuration.Record(ctx, float64(time.Since(startTime).Milliseconds()))
	}
}

// writeMsg writes a DNS message; a failed write means the client is gone
func (h *Handler) writeMsg(w dns.ResponseWriter, msg *dns.Msg) {
	if err := w.WriteMsg(msg); err != nil {
		_ = err
	}
}
