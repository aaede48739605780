package server

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthServer_CheckTracksProbe(t *testing.T) {
	var probeErr error
	hs, err := NewHealthServer("127.0.0.1", 0, "tripwire.worker", func(context.Context) error { return probeErr }, time.Second, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHealthServer() error = %v", err)
	}
	ctx := context.Background()

	if got := hs.Check(ctx); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("Check() = %v, want SERVING", got)
	}
	resp, err := hs.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: "tripwire.worker"})
	if err != nil || resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("health.Check() = %v, %v, want SERVING", resp, err)
	}

	probeErr = errors.New("store down")
	if got := hs.Check(ctx); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("Check() = %v, want NOT_SERVING", got)
	}
	resp, err = hs.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ""})
	if err != nil || resp.Status != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("health.Check(\"\") = %v, %v, want NOT_SERVING", resp, err)
	}
}

func TestNewServers_RequireDependencies(t *testing.T) {
	if _, err := NewHealthServer("127.0.0.1", 0, "svc", nil, 0, zerolog.Nop()); err == nil {
		t.Error("NewHealthServer(nil probe) error = nil")
	}
	if _, err := NewHTTPServer("127.0.0.1", 0, nil, zerolog.Nop()); err == nil {
		t.Error("NewHTTPServer(nil handler) error = nil")
	}
}

func TestHTTPServer_StartShutdown(t *testing.T) {
	srv, err := NewHTTPServer("127.0.0.1", 0, http.NotFoundHandler(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHTTPServer() error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Start(context.Background()) }()

	// Give Serve a moment to bind, then shut down.
	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v, want nil after shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return")
	}
}
