// internal/facts/remote.go
package facts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/solatis/tripwire/internal/types"
)

/*
 * Remote fact source.
 *
 * Resolves facts from an HTTP service that owns the underlying data (account
 * balances, spend totals). One request per fact resolution; memoization is
 * the evaluator's job.
 *
 * Request:  POST {endpoint}/facts/{id}   body {"params": {...}}
 * Response: 200 with a JSON body; the value is read at ValuePath (gjson
 *           syntax, default "value"). Numbers keep their exact text as
 *           json.Number.
 *
 * Status mapping:
 *   404           -> ErrFactNotFound
 *   400, 422      -> ErrInvalidParams
 *   anything else -> ErrResolverUnavailable (also network errors, timeouts
 *                    and bodies without a value at ValuePath)
 */

// maxResponseBytes caps fact response bodies.
const maxResponseBytes = 1 << 20

// RemoteConfig configures a Remote source.
type RemoteConfig struct {
	Endpoint  string
	Timeout   time.Duration
	ValuePath string
}

// Remote resolves facts over HTTP.
type Remote struct {
	base      *url.URL
	client    *http.Client
	valuePath string
	logger    zerolog.Logger
}

// NewRemote creates a Remote for cfg.Endpoint.
func NewRemote(cfg RemoteConfig, logger zerolog.Logger) (*Remote, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("facts endpoint is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid facts endpoint: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid facts endpoint scheme %q", base.Scheme)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	path := cfg.ValuePath
	if path == "" {
		path = "value"
	}
	return &Remote{
		base:      base,
		client:    &http.Client{Timeout: timeout},
		valuePath: path,
		logger:    logger.With().Str("component", "facts.remote").Logger(),
	}, nil
}

// Resolve implements Source.
func (r *Remote) Resolve(ctx context.Context, factID string, params map[string]any) (any, error) {
	body, err := json.Marshal(struct {
		Params map[string]any `json:"params"`
	}{Params: params})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidParams, err)
	}

	endpoint := r.base.JoinPath("facts", factID).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrResolverUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrResolverUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", types.ErrResolverUnavailable, err)
	}

	r.logger.Debug().
		Str("fact", factID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("fact resolved")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %q", types.ErrFactNotFound, factID)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidParams, strings.TrimSpace(string(data)))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", types.ErrResolverUnavailable, resp.StatusCode)
	}

	result := gjson.GetBytes(data, r.valuePath)
	if !result.Exists() {
		return nil, fmt.Errorf("%w: no value at %q", types.ErrResolverUnavailable, r.valuePath)
	}
	switch result.Type {
	case gjson.Number:
		return json.Number(result.Raw), nil
	case gjson.String:
		return result.Str, nil
	default:
		return result.Value(), nil
	}
}
