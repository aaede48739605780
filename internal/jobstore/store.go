// Package jobstore persists scheduled jobs and arbitrates which worker runs them.
//
// Every backend implements the same Store contract. ClaimDue is the only
// serialization point between workers: it atomically selects one due job
// whose lease is free or expired and stamps it with the caller's owner id
// and lease expiry. All later writes for that firing (RenewLease,
// Reschedule, Complete) are conditional on the caller still owning the lease
// and fail with types.ErrLeaseLost otherwise.
//
// Rule edits bump a revision counter. Reschedule keeps a next_run_at that was
// recomputed by an edit made while the job was claimed.
package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/solatis/tripwire/internal/types"
)

// Store is the durable job queue.
type Store interface {
	// Create inserts a job for snap.RuleID. Fails with types.ErrJobExists
	// when the rule already has one.
	Create(ctx context.Context, snap types.RuleSnapshot, nextRunAt time.Time) (types.JobID, error)

	// ClaimDue leases one job with next_run_at <= now and no live lease.
	// Returns nil, nil when nothing is due.
	ClaimDue(ctx context.Context, now time.Time, owner string, lease time.Duration) (*types.Job, error)

	// RenewLease extends owner's lease to until.
	RenewLease(ctx context.Context, id types.JobID, owner string, until time.Time) error

	// Reschedule releases the lease and sets the next run.
	Reschedule(ctx context.Context, id types.JobID, out Outcome) error

	// Complete deletes a job whose recurrence has ended. Requires the lease.
	Complete(ctx context.Context, id types.JobID, owner string) error

	// Cancel deletes the job for a rule regardless of lease.
	Cancel(ctx context.Context, ruleID types.RuleID) error

	// Delete deletes a job by id regardless of lease.
	Delete(ctx context.Context, id types.JobID) error

	// UpdateSnapshot replaces the payload and bumps the revision. A non-nil
	// nextRunAt also replaces next_run_at.
	UpdateSnapshot(ctx context.Context, id types.JobID, snap types.RuleSnapshot, nextRunAt *time.Time) error

	Get(ctx context.Context, id types.JobID) (*types.Job, error)
	GetByRule(ctx context.Context, ruleID types.RuleID) (*types.Job, error)
	Ping(ctx context.Context) error
	Close() error
}

// Outcome is the result of one firing, written back by Reschedule.
type Outcome struct {
	Owner     string
	Revision  int64     // job revision observed at claim
	DueAt     time.Time // job next_run_at observed at claim
	NextRunAt time.Time
	RanAt     time.Time
}

// OutcomeFor starts an Outcome from a claimed job.
func OutcomeFor(job *types.Job) Outcome {
	return Outcome{Owner: job.LockOwner, Revision: job.Revision, DueAt: job.NextRunAt}
}

// Backend names accepted by Open.
const (
	DriverSQL    = "sql"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Driver      string
	DBURL       string // sql
	RedisURL    string // redis
	RedisPrefix string // redis, defaults to "tripwire:"
	AutoMigrate bool   // sql: apply embedded migrations on open
}

// Open constructs the configured backend.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverSQL, "":
		return OpenSQL(ctx, cfg.DBURL, cfg.AutoMigrate, logger)
	case DriverRedis:
		return OpenRedis(ctx, cfg.RedisURL, cfg.RedisPrefix, logger)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q (expected sql, redis or memory)", cfg.Driver)
	}
}

// encodeSnapshot serializes the payload column.
func encodeSnapshot(snap types.RuleSnapshot) ([]byte, error) {
	if snap.RuleID == "" {
		return nil, fmt.Errorf("%w: rule_id is required", types.ErrInvalidSnapshot)
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidSnapshot, err)
	}
	return b, nil
}

func decodeSnapshot(data []byte) (types.RuleSnapshot, error) {
	var snap types.RuleSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return types.RuleSnapshot{}, fmt.Errorf("%w: decode payload: %v", types.ErrInvalidSnapshot, err)
	}
	return snap, nil
}

// Instants are stored as UTC unix milliseconds.
func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func optMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := fromMillis(*ms)
	return &t
}
