// Package resolver forwards unresolved queries upstream: DNS-over-HTTPS
// first, plain UDP on port 53 as the fallback.
package resolver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/miekg/dns"

	"netwarden/pkg/config"
	"netwarden/pkg/logging"
)

const dohContentType = "application/dns-message"

// Resolver resolves queries against the configured upstreams.
// The HTTP client is shared for all DoH requests and closed at shutdown.
type Resolver struct {
	dohURL     string
	fallback   string // host:53
	timeout    time.Duration
	httpClient *http.Client
	udpClient  *dns.Client
	logger     *logging.Logger
}

// New creates a new upstream resolver
func New(cfg *config.UpstreamConfig, logger *logging.Logger) *Resolver {
	return &Resolver{
		dohURL:   cfg.DoHURL,
		fallback: net.JoinHostPort(cfg.FallbackIP, "53"),
		timeout:  cfg.Timeout,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		udpClient: &dns.Client{
			Net:     "udp",
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// Resolve builds a standard wire-format question for (domain, qtype) and
// returns the parsed upstream response. DoH is tried first; any transport
// or status failure falls back to plain UDP.
func (r *Resolver) Resolve(ctx context.Context, domain string, qtype uint16) (*dns.Msg, error) {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(domain), qtype)
	return r.Exchange(ctx, q)
}

// Exchange sends an already-built query upstream
func (r *Resolver) Exchange(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
	resp, dohErr := r.exchangeDoH(ctx, q)
	if dohErr == nil {
		return resp, nil
	}

	r.logger.Debug("DoH exchange failed, falling back to UDP",
		"upstream", r.dohURL,
		"fallback", r.fallback,
		"error", dohErr)

	resp, udpErr := r.exchangeUDP(ctx, q)
	if udpErr == nil {
		return resp, nil
	}

	return nil, fmt.Errorf("upstream resolution failed: doh: %v, udp: %w", dohErr, udpErr)
}

// exchangeDoH POSTs the wire-format query to the DoH endpoint
func (r *Resolver) exchangeDoH(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
	wire, err := q.Pack()
	if err != nil {
		return nil, fmt.Errorf("failed to pack query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.dohURL, bytes.NewReader(wire))
	if err != nil {
		return nil, fmt.Errorf("failed to build DoH request: %w", err)
	}
	req.Header.Set("Content-Type", dohContentType)
	req.Header.Set("Accept", dohContentType)

	httpResp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("DoH request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("DoH endpoint returned status %d", httpResp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, dns.MaxMsgSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read DoH response: %w", err)
	}

	resp := new(dns.Msg)
	if err := resp.Unpack(body); err != nil {
		return nil, fmt.Errorf("failed to parse DoH response: %w", err)
	}
	return resp, nil
}

// exchangeUDP sends the same wire question to the fallback server on port 53
func (r *Resolver) exchangeUDP(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
	resp, rtt, err := r.udpClient.ExchangeContext(ctx, q, r.fallback)
	if err != nil {
		return nil, fmt.Errorf("UDP exchange with %s failed: %w", r.fallback, err)
	}

	r.logger.Debug("UDP fallback answered",
		"upstream", r.fallback,
		"rtt", rtt)
	return resp, nil
}

// Close releases the shared HTTP client's idle connections
func (r *Resolver) Close() {
	r.httpClient.CloseIdleConnections()
}
