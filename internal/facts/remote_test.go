package facts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/solatis/tripwire/internal/types"
)

func newTestRemote(t *testing.T, h http.HandlerFunc, valuePath string) *Remote {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	r, err := NewRemote(RemoteConfig{Endpoint: srv.URL, Timeout: time.Second, ValuePath: valuePath}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRemote() error = %v", err)
	}
	return r
}

func TestRemote_Resolve(t *testing.T) {
	var gotPath string
	var gotParams map[string]any
	r := newTestRemote(t, func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		var body struct {
			Params map[string]any `json:"params"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		gotParams = body.Params
		_, _ = w.Write([]byte(`{"value": 150.25}`))
	}, "")

	v, err := r.Resolve(context.Background(), "balance.available", map[string]any{"account": "chk"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if v != json.Number("150.25") {
		t.Errorf("Resolve() = %#v, want json.Number(150.25)", v)
	}
	if gotPath != "/facts/balance.available" {
		t.Errorf("path = %q, want /facts/balance.available", gotPath)
	}
	if gotParams["account"] != "chk" {
		t.Errorf("params = %v, want account=chk", gotParams)
	}
}

func TestRemote_ValuePath(t *testing.T) {
	r := newTestRemote(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"amount": "42.00"}}`))
	}, "data.amount")

	v, err := r.Resolve(context.Background(), "x", nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if v != "42.00" {
		t.Errorf("Resolve() = %#v, want \"42.00\"", v)
	}
}

func TestRemote_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"not found", http.StatusNotFound, `{}`, types.ErrFactNotFound},
		{"bad request", http.StatusBadRequest, `{"error":"account required"}`, types.ErrInvalidParams},
		{"unprocessable", http.StatusUnprocessableEntity, `{}`, types.ErrInvalidParams},
		{"server error", http.StatusInternalServerError, `{}`, types.ErrResolverUnavailable},
		{"unavailable", http.StatusServiceUnavailable, `{}`, types.ErrResolverUnavailable},
		{"missing value", http.StatusOK, `{"other": 1}`, types.ErrResolverUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRemote(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, "")
			_, err := r.Resolve(context.Background(), "x", nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("Resolve() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRemote_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	r, err := NewRemote(RemoteConfig{Endpoint: endpoint, Timeout: time.Second}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRemote() error = %v", err)
	}
	if _, err := r.Resolve(context.Background(), "x", nil); !errors.Is(err, types.ErrResolverUnavailable) {
		t.Errorf("Resolve() error = %v, want ErrResolverUnavailable", err)
	}
}

func TestNewRemote_InvalidEndpoint(t *testing.T) {
	for _, endpoint := range []string{"", "ftp://facts.local", "://bad"} {
		if _, err := NewRemote(RemoteConfig{Endpoint: endpoint}, zerolog.Nop()); err == nil {
			t.Errorf("NewRemote(%q) error = nil, want error", endpoint)
		}
	}
}
