package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPServer runs an http.Handler with the same lifecycle as HealthServer.
type HTTPServer struct {
	server *http.Server
	logger zerolog.Logger
}

// NewHTTPServer creates a server for handler on host:port.
func NewHTTPServer(host string, port int, handler http.Handler, logger zerolog.Logger) (*HTTPServer, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	return &HTTPServer{
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "server.http").Logger(),
	}, nil
}

// Start binds the listener and serves until Shutdown. A clean shutdown
// returns nil.
func (s *HTTPServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.server.Addr, err)
	}
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("http server listening")

	if err := s.server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx ends.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		s.server.Close()
		return fmt.Errorf("graceful shutdown failed, forced close: %w", err)
	}
	return nil
}
