package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/solatis/tripwire/internal/recurrence"
	"github.com/solatis/tripwire/internal/types"
)

// ScheduleJob creates the job for snap.RuleID, or refreshes the existing one
// and returns its id. A new job starts at the schedule's next occurrence.
// Inactive rules are rejected with types.ErrRuleInactive and lose any job
// they had.
func (s *Service) ScheduleJob(ctx context.Context, snap types.RuleSnapshot) (types.JobID, error) {
	plan, err := Validate(snap)
	if err != nil {
		return "", err
	}
	if !snap.IsActive {
		if err := s.CancelRule(ctx, snap.RuleID); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: %s", types.ErrRuleInactive, snap.RuleID)
	}

	for range 2 {
		existing, err := s.store.GetByRule(ctx, snap.RuleID)
		switch {
		case err == nil:
			if err := s.refresh(ctx, existing, snap, plan); err != nil {
				return "", err
			}
			return existing.ID, nil
		case !errors.Is(err, types.ErrJobNotFound):
			return "", err
		}

		next, err := nextRun(plan, s.now())
		if err != nil {
			return "", err
		}
		id, err := s.store.Create(ctx, snap, next)
		if errors.Is(err, types.ErrJobExists) {
			// Lost a create race; refresh the winner's job.
			continue
		}
		if err != nil {
			return "", err
		}
		s.logger.Info().
			Str("job_id", string(id)).
			Str("rule_id", string(snap.RuleID)).
			Str("frequency", string(snap.Schedule.Frequency)).
			Time("next_run_at", next).
			Msg("job scheduled")
		return id, nil
	}
	return "", fmt.Errorf("%w: %s", types.ErrJobExists, snap.RuleID)
}

// UpdateJob replaces the job's rule snapshot. The next run is recomputed
// only when the schedule changed. Deactivating the rule cancels the job.
func (s *Service) UpdateJob(ctx context.Context, id types.JobID, snap types.RuleSnapshot) error {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if snap.RuleID != job.RuleID {
		return fmt.Errorf("%w: job %s belongs to rule %s, not %s", types.ErrInvalidSnapshot, id, job.RuleID, snap.RuleID)
	}
	if !snap.IsActive {
		return s.CancelJob(ctx, id)
	}
	plan, err := Validate(snap)
	if err != nil {
		return err
	}
	return s.refresh(ctx, job, snap, plan)
}

// CancelJob deletes a job. A missing job is not an error.
func (s *Service) CancelJob(ctx context.Context, id types.JobID) error {
	err := s.store.Delete(ctx, id)
	if err != nil && !errors.Is(err, types.ErrJobNotFound) {
		return err
	}
	s.logger.Info().Str("job_id", string(id)).Bool("existed", err == nil).Msg("job cancelled")
	return nil
}

// CancelRule deletes the job for a rule. A missing job is not an error.
func (s *Service) CancelRule(ctx context.Context, ruleID types.RuleID) error {
	err := s.store.Cancel(ctx, ruleID)
	if err != nil && !errors.Is(err, types.ErrJobNotFound) {
		return err
	}
	s.logger.Info().Str("rule_id", string(ruleID)).Bool("existed", err == nil).Msg("rule job cancelled")
	return nil
}

func (s *Service) refresh(ctx context.Context, job *types.Job, snap types.RuleSnapshot, plan *recurrence.Plan) error {
	var next *time.Time
	if scheduleFingerprint(job.Payload.Schedule) != scheduleFingerprint(snap.Schedule) {
		t, err := nextRun(plan, s.now())
		if err != nil {
			return err
		}
		next = &t
	}
	if err := s.store.UpdateSnapshot(ctx, job.ID, snap, next); err != nil {
		return err
	}
	ev := s.logger.Info().
		Str("job_id", string(job.ID)).
		Str("rule_id", string(snap.RuleID)).
		Bool("rescheduled", next != nil)
	if next != nil {
		ev = ev.Time("next_run_at", *next)
	}
	ev.Msg("job updated")
	return nil
}

// nextRun computes the first run of a new or rescheduled job. A schedule
// change restarts the rule, so an on-truth debounce from an earlier fire the
// same day does not carry over.
func nextRun(plan *recurrence.Plan, now time.Time) (time.Time, error) {
	next, ok := plan.Next(now, false)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: no occurrence after %s", types.ErrScheduleExpired, now.UTC().Format(time.RFC3339))
	}
	return next, nil
}
