// internal/worker/process.go
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/solatis/tripwire/internal/core/retry"
	"github.com/solatis/tripwire/internal/jobstore"
	"github.com/solatis/tripwire/internal/recurrence"
	"github.com/solatis/tripwire/internal/rules"
	"github.com/solatis/tripwire/internal/types"
)

/*
 * Per-job pipeline:
 *
 *   claimed -> evaluate (EvalTimeout, lease renewed every lease/3)
 *           -> notify (satisfied only)
 *           -> re-read job -> reschedule | complete | nothing
 *
 * A lost lease at any point stops the pipeline without writing; the new
 * owner is responsible for the job. Evaluation errors count as "not
 * satisfied" and the job keeps its normal cadence.
 */

type outcome int

const (
	outcomeNone outcome = iota // lease lost or job gone
	outcomeRescheduled
	outcomeCompleted
	outcomeFailed
)

type result struct {
	outcome outcome
	fired   bool
}

func (w *Worker) process(ctx context.Context, job *types.Job) result {
	log := w.logger.With().
		Str("job_id", string(job.ID)).
		Str("rule_id", string(job.RuleID)).
		Logger()
	ranAt := w.cfg.Now()

	if job.LockExpiresAt != nil && !ranAt.Before(*job.LockExpiresAt) {
		log.Warn().Time("lock_expires_at", *job.LockExpiresAt).Msg("lease expired before processing, skipping job")
		return result{}
	}

	if !job.Payload.IsActive {
		log.Debug().Msg("rule inactive, completing job")
		return result{outcome: w.complete(ctx, log, job)}
	}

	plan, err := recurrence.Compile(job.Payload.Schedule)
	if err != nil {
		// Stored schedules are validated on write; nothing can fire this job again.
		log.Error().Err(err).Bool("alert", true).Msg("stored schedule is invalid, completing job")
		return result{outcome: w.complete(ctx, log, job)}
	}

	leaseCtx, lost, release := w.holdLease(ctx, log, job)
	satisfied, evalErr := w.evaluate(leaseCtx, log, job)
	if satisfied && leaseCtx.Err() == nil {
		rep := w.dispatcher.Dispatch(leaseCtx, job.RuleID, job.Payload.Event)
		log.Info().
			Int("sent", rep.Sent).
			Int("failed", rep.Failed).
			Int("skipped", rep.Skipped).
			Int("duplicate", rep.Duplicate).
			Msg("rule fired")
	}
	release()

	if lost() {
		log.Debug().Msg("lease lost during evaluation")
		return result{}
	}

	o := w.finalize(ctx, log, job, plan, satisfied, ranAt)
	if evalErr != nil && o != outcomeNone {
		o = outcomeFailed
	}
	return result{outcome: o, fired: satisfied}
}

// evaluate compiles and evaluates the job's condition under EvalTimeout.
func (w *Worker) evaluate(ctx context.Context, log zerolog.Logger, job *types.Job) (bool, error) {
	cond, err := rules.Compile(job.Payload.Condition)
	if err != nil {
		log.Warn().Err(err).Msg("condition invalid")
		return false, err
	}

	evalCtx, cancel := context.WithTimeout(ctx, w.cfg.EvalTimeout)
	defer cancel()

	start := time.Now()
	res, err := rules.Evaluate(evalCtx, cond, w.resolver)
	if err != nil {
		log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("evaluation failed")
		return false, err
	}
	log.Debug().
		Bool("satisfied", res.Satisfied).
		Int("matched", len(res.Matched)).
		Int("resolved", res.Resolved).
		Dur("elapsed", time.Since(start)).
		Msg("condition evaluated")
	return res.Satisfied, nil
}

// holdLease renews the job's lease every LeaseDuration/3 until release is
// called. The returned context is cancelled when the lease is lost, either
// because the store rejects a renewal or because renewals kept failing past
// the last confirmed expiry.
func (w *Worker) holdLease(ctx context.Context, log zerolog.Logger, job *types.Job) (context.Context, func() bool, func()) {
	leaseCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	var lostLease bool
	expires := w.cfg.Now().Add(w.cfg.LeaseDuration)
	if job.LockExpiresAt != nil {
		expires = *job.LockExpiresAt
	}

	go func() {
		defer close(done)
		t := time.NewTicker(w.cfg.LeaseDuration / 3)
		defer t.Stop()
		for {
			select {
			case <-leaseCtx.Done():
				return
			case <-t.C:
				until := w.cfg.Now().Add(w.cfg.LeaseDuration)
				err := w.store.RenewLease(leaseCtx, job.ID, w.cfg.ID, until)
				switch {
				case err == nil:
					expires = until
				case errors.Is(err, types.ErrLeaseLost), errors.Is(err, types.ErrJobNotFound):
					lostLease = true
					cancel()
					return
				case leaseCtx.Err() != nil:
					return
				case !w.cfg.Now().Before(expires):
					log.Warn().Err(err).Msg("lease expired while renewals failed")
					lostLease = true
					cancel()
					return
				default:
					log.Warn().Err(err).Msg("lease renewal failed")
				}
			}
		}
	}()

	var released bool
	release := func() {
		if released {
			return
		}
		released = true
		cancel()
		<-done
	}
	lost := func() bool {
		<-done
		return lostLease
	}
	return leaseCtx, lost, release
}

// finalize re-reads the job and writes back the next run.
func (w *Worker) finalize(ctx context.Context, log zerolog.Logger, claimed *types.Job, plan *recurrence.Plan, satisfied bool, ranAt time.Time) outcome {
	// Finalize writes outlive shutdown; they are bounded by the retry policy.
	ctx = context.WithoutCancel(ctx)

	current, err := w.store.Get(ctx, claimed.ID)
	switch {
	case errors.Is(err, types.ErrJobNotFound):
		log.Debug().Msg("job removed during evaluation")
		return outcomeNone
	case err != nil:
		log.Warn().Err(err).Msg("re-read failed, rescheduling from claimed snapshot")
		current = claimed
	case current.LockOwner != w.cfg.ID:
		log.Debug().Msg("lease taken over before finalize")
		return outcomeNone
	}

	if !current.Payload.IsActive {
		return w.complete(ctx, log, claimed)
	}
	if current.Revision != claimed.Revision {
		if p, err := recurrence.Compile(current.Payload.Schedule); err == nil {
			plan = p
		}
	}

	next, ok := plan.Next(w.cfg.Now(), satisfied)
	if !ok {
		log.Info().Msg("schedule exhausted, completing job")
		return w.complete(ctx, log, claimed)
	}

	out := jobstore.OutcomeFor(claimed)
	out.NextRunAt = next
	out.RanAt = ranAt
	err = w.withRetry(ctx, func(ctx context.Context) error {
		return w.store.Reschedule(ctx, claimed.ID, out)
	})
	if o, done := w.writeResult(log, "reschedule", err); done {
		return o
	}
	log.Debug().Time("next_run_at", next).Msg("job rescheduled")
	return outcomeRescheduled
}

func (w *Worker) complete(ctx context.Context, log zerolog.Logger, job *types.Job) outcome {
	err := w.withRetry(context.WithoutCancel(ctx), func(ctx context.Context) error {
		return w.store.Complete(ctx, job.ID, w.cfg.ID)
	})
	if o, done := w.writeResult(log, "complete", err); done {
		return o
	}
	return outcomeCompleted
}

// writeResult classifies a finalize write error. done reports whether the
// caller should return o.
func (w *Worker) writeResult(log zerolog.Logger, op string, err error) (outcome, bool) {
	switch {
	case err == nil:
		return outcomeNone, false
	case errors.Is(err, types.ErrLeaseLost), errors.Is(err, types.ErrJobNotFound):
		log.Debug().Err(err).Str("op", op).Msg("finalize skipped")
		return outcomeNone, true
	default:
		log.Error().Err(err).Str("op", op).Bool("alert", true).Msg("finalize failed after retries")
		return outcomeFailed, true
	}
}

func (w *Worker) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	policy := retry.Policy{
		Attempts: w.cfg.FinalizeAttempts,
		Base:     w.cfg.FinalizeBackoff,
		Max:      w.cfg.FinalizeBackoff * 16,
		Jitter:   true,
	}
	_, err := retry.Do(ctx, policy, fn, func(err error) bool {
		return !errors.Is(err, types.ErrLeaseLost) && !errors.Is(err, types.ErrJobNotFound)
	})
	return err
}
