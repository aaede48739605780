package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/solatis/tripwire/internal/core/config"
	"github.com/solatis/tripwire/internal/core/logging"
	"github.com/solatis/tripwire/internal/core/retry"
	"github.com/solatis/tripwire/internal/facts"
	"github.com/solatis/tripwire/internal/jobstore"
	"github.com/solatis/tripwire/internal/notify"
)

// loadRuntime reads configuration, applies persistent flags and builds the logger.
func loadRuntime(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("db-url") {
		cfg.Store.DBURL = dbURL
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Out: os.Stderr})
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (jobstore.Store, error) {
	store, err := jobstore.Open(ctx, jobstore.Config{
		Driver:      cfg.Store.Driver,
		DBURL:       cfg.Store.DBURL,
		RedisURL:    cfg.Store.RedisURL,
		RedisPrefix: cfg.Store.RedisPrefix,
		AutoMigrate: cfg.Store.AutoMigrate,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	return store, nil
}

// newFactSource builds the registry; the remote fact service backs every
// id that has no local handler.
func newFactSource(cfg *config.Config, logger zerolog.Logger) (*facts.Registry, error) {
	reg := facts.NewRegistry()
	if cfg.Facts.Endpoint == "" {
		logger.Warn().Msg("facts.endpoint not set; every fact lookup will fail with fact not found")
		return reg, nil
	}
	remote, err := facts.NewRemote(facts.RemoteConfig{
		Endpoint:  cfg.Facts.Endpoint,
		Timeout:   cfg.Facts.Timeout,
		ValuePath: cfg.Facts.ValuePath,
	}, logger)
	if err != nil {
		return nil, err
	}
	reg.SetFallback(remote)
	return reg, nil
}

// newDispatcher wraps the log notifier with rate limiting and transient retries.
func newDispatcher(cfg *config.Config, logger zerolog.Logger) *notify.Dispatcher {
	var n notify.Notifier = notify.NewLogNotifier(logger)
	n = notify.NewRetrying(n, retry.Policy{Attempts: cfg.Notify.RetryAttempts, Jitter: true})
	n = notify.NewRateLimited(n, cfg.Notify.RatePerSec, cfg.Notify.Burst)
	return notify.NewDispatcher(n, logger, cfg.Notify.SendTimeout)
}
