// Package api implements the schedule management façade used by the rule
// CRUD layer: create, update and cancel the job that drives a rule.
//
// Every call validates the rule snapshot fully (schedule, condition and
// event) so that malformed rules are rejected here and never at fire time.
// All operations are idempotent.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/solatis/tripwire/internal/jobstore"
	"github.com/solatis/tripwire/internal/types"
)

// Service manages jobs on behalf of rules.
type Service struct {
	store  jobstore.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a Service backed by store.
func NewService(store jobstore.Store, logger zerolog.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	return &Service{
		store:  store,
		logger: logger.With().Str("component", "api").Logger(),
		now:    time.Now,
	}, nil
}

// GetJob returns the job by id.
func (s *Service) GetJob(ctx context.Context, id types.JobID) (*types.Job, error) {
	return s.store.Get(ctx, id)
}

// GetRuleJob returns the job scheduled for a rule.
func (s *Service) GetRuleJob(ctx context.Context, ruleID types.RuleID) (*types.Job, error) {
	return s.store.GetByRule(ctx, ruleID)
}

// Ready reports whether the backing store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}
