package dnsserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/miekg/dns"

	"netwarden/pkg/config"
	"netwarden/pkg/logging"
)

// Server runs the UDP and TCP DNS listeners on the same host:port
type Server struct {
	cfg       *config.DNSConfig
	handler   *Handler
	logger    *logging.Logger
	udpServer *dns.Server
	tcpServer *dns.Server
	running   bool
	mu        sync.RWMutex
}

// NewServer creates a new DNS server
func NewServer(cfg *config.DNSConfig, handler *Handler, logger *logging.Logger) *Server {
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
	}
}

// Start starts the configured listeners and blocks until ctx is cancelled
// or a listener fails
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true

	addr := s.cfg.ListenAddress()
	errChan := make(chan error, 2)

	if s.cfg.UDPEnabled {
		s.udpServer = &dns.Server{
			Addr:    addr,
			Net:     "udp",
			Handler: s.handler,
		}
	}
	if s.cfg.TCPEnabled {
		s.tcpServer = &dns.Server{
			Addr:         addr,
			Net:          "tcp",
			Handler:      s.handler,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		}
	}
	s.mu.Unlock()

	if s.cfg.UDPEnabled {
		go func() {
			s.logger.Info("Starting UDP DNS listener", "address", addr)
			if err := s.udpServer.ListenAndServe(); err != nil {
				errChan <- fmt.Errorf("UDP server failed: %w", err)
			}
		}()
	}
	if s.cfg.TCPEnabled {
		go func() {
			s.logger.Info("Starting TCP DNS listener", "address", addr)
			if err := s.tcpServer.ListenAndServe(); err != nil {
				errChan <- fmt.Errorf("TCP server failed: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		s.logger.Info("DNS server shutting down")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.logger.Error("DNS server error", "error", err)
		return err
	}
}

// Shutdown stops the listeners with a short grace window for in-flight
// queries, then closes the upstream client
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	var errs []error
	if s.udpServer != nil {
		if err := s.udpServer.ShutdownContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("UDP shutdown: %w", err))
		}
	}
	if s.tcpServer != nil {
		if err := s.tcpServer.ShutdownContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("TCP shutdown: %w", err))
		}
	}

	s.handler.Resolver.Close()
	s.running = false

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	s.logger.Info("DNS server shut down")
	return nil
}

// IsRunning reports whether the listeners are active
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
