package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/solatis/tripwire/internal/core/server"
	"github.com/solatis/tripwire/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the scheduler worker loop",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().String("id", "", "lease owner id (default: generated UUIDv7)")
	workerCmd.Flags().Duration("poll-interval", 0, "poll interval (overrides worker.poll_interval)")
	workerCmd.Flags().Int("concurrency", 0, "jobs processed in parallel per tick")
	workerCmd.Flags().Int("health-port", 0, "gRPC health port (overrides health.port)")
	workerCmd.Flags().Bool("once", false, "run a single tick and exit")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("id") {
		cfg.Worker.ID, _ = flags.GetString("id")
	}
	if flags.Changed("poll-interval") {
		cfg.Worker.PollInterval, _ = flags.GetDuration("poll-interval")
	}
	if flags.Changed("concurrency") {
		cfg.Worker.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("health-port") {
		cfg.Health.Port, _ = flags.GetInt("health-port")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	resolver, err := newFactSource(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to configure facts: %w", err)
	}

	w, err := worker.New(worker.Config{
		ID:               cfg.Worker.ID,
		PollInterval:     cfg.Worker.PollInterval,
		LeaseDuration:    cfg.Worker.LeaseDuration,
		EvalTimeout:      cfg.Worker.EvalTimeout,
		MaxClaimsPerTick: cfg.Worker.MaxClaimsPerTick,
		Concurrency:      cfg.Worker.Concurrency,
		FinalizeAttempts: cfg.Worker.FinalizeAttempts,
		FinalizeBackoff:  cfg.Worker.FinalizeBackoff,
	}, store, resolver, newDispatcher(cfg, logger), logger)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	if once, _ := flags.GetBool("once"); once {
		stats, err := w.RunOnce(ctx)
		logger.Info().Int("claimed", stats.Claimed).Int("fired", stats.Fired).Msg("single tick complete")
		return err
	}

	health, err := server.NewHealthServer(cfg.Health.Host, cfg.Health.Port, "tripwire.worker", store.Ping, cfg.Worker.PollInterval, logger)
	if err != nil {
		return fmt.Errorf("failed to create health server: %w", err)
	}

	logger.Info().Str("version", Version).Str("worker_id", w.ID()).Str("store", cfg.Store.Driver).Msg("starting tripwire worker")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return health.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return health.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
