package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"cipherchat/internal/api"
	"cipherchat/internal/config"
)

// Server owns the HTTP listener serving the REST API and the duplex endpoint.
type Server struct {
	http     *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// NewServer binds cfg.HTTP.Address immediately so that a bad address fails
// application start rather than the serving goroutine.
func NewServer(cfg *config.Config, h *api.Handlers, logger *zap.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", cfg.HTTP.Address)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.HTTP.Address, err)
	}

	return &Server{
		http: &http.Server{
			Handler:           otelhttp.NewHandler(h.Routes(), "http.server"),
			ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
			IdleTimeout:       cfg.HTTP.IdleTimeout,
		},
		listener: listener,
		logger:   logger.Named("http"),
	}, nil
}

// Addr is the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("address", s.listener.Addr().String()))
	if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests. Hijacked duplex connections are not
// tracked by net/http and must be closed separately.
func (s *Server) Stop(ctx context.Context) {
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
}
