// Package server provides listener lifecycle for tripwire's network surfaces:
// the gRPC health service and the HTTP management API.
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Prober reports whether a dependency is usable.
type Prober func(ctx context.Context) error

// HealthServer serves grpc.health.v1 for a worker or API process.
// The overall ("") status and the named service track the prober result.
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	addr     string
	service  string
	probe    Prober
	interval time.Duration
	logger   zerolog.Logger
}

// NewHealthServer creates a health server on host:port. service names the
// status reported alongside the overall one (e.g. "tripwire.worker").
func NewHealthServer(host string, port int, service string, probe Prober, interval time.Duration, logger zerolog.Logger) (*HealthServer, error) {
	if probe == nil {
		return nil, fmt.Errorf("probe cannot be nil")
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	srv := grpc.NewServer()
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(service, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{
		server:   srv,
		health:   hs,
		addr:     fmt.Sprintf("%s:%d", host, port),
		service:  service,
		probe:    probe,
		interval: interval,
		logger:   logger.With().Str("component", "server.health").Logger(),
	}, nil
}

// Start binds the listener, probes on interval and serves until Shutdown.
func (s *HealthServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.addr, err)
	}
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("health server listening")

	go s.watch(ctx)
	return s.server.Serve(listener)
}

// Check runs the prober once and updates the serving status.
func (s *HealthServer) Check(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	probeCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	status := grpc_health_v1.HealthCheckResponse_SERVING
	if err := s.probe(probeCtx); err != nil {
		s.logger.Warn().Err(err).Msg("health probe failed")
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(s.service, status)
	return status
}

func (s *HealthServer) watch(ctx context.Context) {
	s.Check(ctx)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Check(ctx)
		}
	}
}

// Shutdown marks the server NOT_SERVING and stops it gracefully, forcing a
// stop when ctx ends or after 30 seconds.
func (s *HealthServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return fmt.Errorf("shutdown cancelled by context: %w", ctx.Err())
	case <-time.After(30 * time.Second):
		s.server.Stop()
		return fmt.Errorf("graceful shutdown timeout, forced stop")
	}
}
