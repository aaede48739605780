// Package worker runs the scheduler loop: claim due jobs, evaluate their
// conditions, notify, and write the next run back to the store.
//
// Any number of workers may share a store. ClaimDue is the only coordination
// point between them; a worker that crashes mid-job leaves a lease that
// expires and the job is picked up by another worker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/solatis/tripwire/internal/jobstore"
	"github.com/solatis/tripwire/internal/notify"
	"github.com/solatis/tripwire/internal/rules"
	"github.com/solatis/tripwire/internal/types"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultPollInterval     = 5 * time.Second
	DefaultLeaseDuration    = 60 * time.Second
	DefaultEvalTimeout      = 20 * time.Second
	DefaultMaxClaimsPerTick = 32
	DefaultConcurrency      = 4
	DefaultFinalizeAttempts = 5
	DefaultFinalizeBackoff  = 200 * time.Millisecond
)

// Config controls one worker.
type Config struct {
	// ID is the lease owner written to claimed jobs. Generated when empty.
	ID string

	PollInterval     time.Duration
	LeaseDuration    time.Duration
	EvalTimeout      time.Duration // must be shorter than LeaseDuration
	MaxClaimsPerTick int
	Concurrency      int

	// FinalizeAttempts and FinalizeBackoff bound retries of the
	// reschedule/complete write.
	FinalizeAttempts int
	FinalizeBackoff  time.Duration

	// Now overrides the wall clock; tests only.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.ID == "" {
		c.ID = types.NewWorkerID()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = DefaultLeaseDuration
	}
	if c.EvalTimeout <= 0 {
		c.EvalTimeout = DefaultEvalTimeout
	}
	if c.MaxClaimsPerTick <= 0 {
		c.MaxClaimsPerTick = DefaultMaxClaimsPerTick
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.FinalizeAttempts <= 0 {
		c.FinalizeAttempts = DefaultFinalizeAttempts
	}
	if c.FinalizeBackoff <= 0 {
		c.FinalizeBackoff = DefaultFinalizeBackoff
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Validate rejects configurations that cannot hold a lease through evaluation.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.EvalTimeout >= c.LeaseDuration {
		return fmt.Errorf("eval timeout %s must be shorter than lease duration %s", c.EvalTimeout, c.LeaseDuration)
	}
	return nil
}

// Worker polls a Store and processes due jobs.
type Worker struct {
	cfg        Config
	store      jobstore.Store
	resolver   rules.FactResolver
	dispatcher *notify.Dispatcher
	logger     zerolog.Logger
}

// New creates a Worker. cfg zero fields take the package defaults.
func New(cfg Config, store jobstore.Store, resolver rules.FactResolver, dispatcher *notify.Dispatcher, logger zerolog.Logger) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &Worker{
		cfg:        cfg,
		store:      store,
		resolver:   resolver,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "worker").Str("worker_id", cfg.ID).Logger(),
	}, nil
}

// ID returns the lease owner id.
func (w *Worker) ID() string { return w.cfg.ID }

// TickStats summarizes one RunOnce call.
type TickStats struct {
	Claimed     int
	Fired       int // condition satisfied
	Rescheduled int
	Completed   int
	Failed      int // evaluation or finalize errors
}

func (s *TickStats) add(o outcome) {
	switch o {
	case outcomeRescheduled:
		s.Rescheduled++
	case outcomeCompleted:
		s.Completed++
	case outcomeFailed:
		s.Failed++
	}
}

// RunOnce claims up to MaxClaimsPerTick due jobs and processes them on at
// most Concurrency goroutines. Each claim is made by the goroutine that
// processes the job, after it has a pool slot, so no claimed job waits
// unrenewed behind others. RunOnce returns once every claimed job is done.
// Only a failing ClaimDue is returned as an error; per-job failures are
// logged and counted.
func (w *Worker) RunOnce(ctx context.Context) (TickStats, error) {
	var (
		mu      sync.Mutex
		stats   TickStats
		drained atomic.Bool
	)

	g := &errgroup.Group{}
	g.SetLimit(w.cfg.Concurrency)

	for i := 0; i < w.cfg.MaxClaimsPerTick && !drained.Load() && ctx.Err() == nil; i++ {
		g.Go(func() error {
			if drained.Load() || ctx.Err() != nil {
				return nil
			}
			job, err := w.store.ClaimDue(ctx, w.cfg.Now(), w.cfg.ID, w.cfg.LeaseDuration)
			if err != nil {
				drained.Store(true)
				return fmt.Errorf("claim due job: %w", err)
			}
			if job == nil {
				drained.Store(true)
				return nil
			}
			mu.Lock()
			stats.Claimed++
			mu.Unlock()

			res := w.process(ctx, job)
			mu.Lock()
			stats.add(res.outcome)
			if res.fired {
				stats.Fired++
			}
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return stats, err
}

// Run ticks every PollInterval until ctx is cancelled. A tick that
// overruns the interval delays the next one instead of overlapping it.
// Intervals under one second are rounded up to one second.
func (w *Worker) Run(ctx context.Context) error {
	spec := "@every " + w.cfg.PollInterval.String()
	clog := cronLogger{w.logger}
	c := cron.New(cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)), cron.WithLogger(clog))
	if _, err := c.AddFunc(spec, func() { w.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule poll %q: %w", spec, err)
	}

	w.logger.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Dur("lease", w.cfg.LeaseDuration).
		Int("concurrency", w.cfg.Concurrency).
		Msg("worker started")

	w.tick(ctx)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	w.logger.Info().Msg("worker stopped")
	return nil
}

func (w *Worker) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	stats, err := w.RunOnce(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Error().Err(err).Msg("poll failed")
	}
	if stats.Claimed == 0 {
		return
	}
	w.logger.Info().
		Int("claimed", stats.Claimed).
		Int("fired", stats.Fired).
		Int("rescheduled", stats.Rescheduled).
		Int("completed", stats.Completed).
		Int("failed", stats.Failed).
		Dur("elapsed", time.Since(start)).
		Msg("tick processed")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
