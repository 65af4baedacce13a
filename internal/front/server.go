// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RealmGate Contributors

// Package front provides the client-facing auth protocol adapter: a TCP
// listener speaking a line-oriented register/login protocol with
// per-connection throttling and idle teardown. The real game transport is
// out of scope; this adapter exists so the service can be driven end to end.
package front

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/realmgate/realmgate/internal/observability"
)

// ServerConfig configures the front-end server.
type ServerConfig struct {
	// Addr is the TCP listen address.
	Addr string

	// MinRequestInterval is the per-connection request spacing.
	MinRequestInterval time.Duration

	// IdleTimeout tears down connections idle for this long.
	IdleTimeout time.Duration
}

// Server accepts client connections and serves the auth protocol.
type Server struct {
	cfg      ServerConfig
	service  AuthService
	logger   *slog.Logger
	metrics  *observability.Metrics
	mu       sync.RWMutex
	listener net.Listener
	handlers sync.WaitGroup
}

// NewServer creates a front-end server. metrics may be nil.
func NewServer(cfg ServerConfig, service AuthService, logger *slog.Logger, metrics *observability.Metrics) (*Server, error) {
	if service == nil {
		return nil, oops.Errorf("auth service is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		cfg:     cfg,
		service: service,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Addr returns the server's listen address, or "" before Run.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run starts the server and blocks until ctx is cancelled. All connection
// handlers are drained before Run returns.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return oops.With("addr", s.cfg.Addr).Wrap(err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("auth front end listening", "addr", listener.Addr())

	go func() {
		<-ctx.Done()
		if err := listener.Close(); err != nil {
			s.logger.Debug("error closing listener", "error", err)
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.handlers.Wait()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.handlers.Wait()
				return nil
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		if s.metrics != nil {
			s.metrics.ConnectionsTotal.WithLabelValues("accepted").Inc()
			s.metrics.ActiveConnections.Inc()
		}

		throttle := NewThrottle(s.cfg.MinRequestInterval, s.cfg.IdleTimeout, time.Now())
		handler := NewConnectionHandler(conn, s.service, throttle, s.logger)

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			defer func() {
				if s.metrics != nil {
					s.metrics.ActiveConnections.Dec()
				}
			}()
			handler.Handle(ctx)
		}()
	}
}
