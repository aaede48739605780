// internal/jobstore/sql.go
package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/solatis/tripwire/internal/core/db"
	"github.com/solatis/tripwire/internal/types"
)

/*
 * SQL job store (SQLite or PostgreSQL through sqlx).
 *
 * Claim protocol (compare-and-set, no row locks held across calls):
 *   1. list-due-jobs selects up to claimBatch candidate ids
 *   2. claim-job updates one candidate, re-checking due and lease predicates
 *      in the WHERE clause
 *   3. RowsAffected == 1 means this caller won; 0 means another worker did,
 *      try the next candidate
 *
 * Conditional writes (renew, reschedule, complete) match on lock_owner. When
 * they affect no row, a follow-up read tells a deleted job (ErrJobNotFound)
 * from a lost lease (ErrLeaseLost).
 */

// claimBatch bounds candidates fetched per ClaimDue call.
const claimBatch = 8

type jobRow struct {
	ID            string         `db:"id"`
	RuleID        string         `db:"rule_id"`
	NextRunAt     int64          `db:"next_run_at"`
	Payload       string         `db:"payload"`
	LockOwner     sql.NullString `db:"lock_owner"`
	LockExpiresAt sql.NullInt64  `db:"lock_expires_at"`
	Revision      int64          `db:"revision"`
	LastRunAt     sql.NullInt64  `db:"last_run_at"`
	CreatedAt     int64          `db:"created_at"`
	UpdatedAt     int64          `db:"updated_at"`
}

func (r jobRow) toJob() (*types.Job, error) {
	snap, err := decodeSnapshot([]byte(r.Payload))
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", r.ID, err)
	}
	job := &types.Job{
		ID:        types.JobID(r.ID),
		RuleID:    types.RuleID(r.RuleID),
		NextRunAt: fromMillis(r.NextRunAt),
		Payload:   snap,
		LockOwner: r.LockOwner.String,
		Revision:  r.Revision,
		CreatedAt: fromMillis(r.CreatedAt),
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
	if r.LockExpiresAt.Valid {
		job.LockExpiresAt = optMillis(&r.LockExpiresAt.Int64)
	}
	if r.LastRunAt.Valid {
		job.LastRunAt = optMillis(&r.LastRunAt.Int64)
	}
	return job, nil
}

// SQLStore implements Store on a relational database.
type SQLStore struct {
	db      *sqlx.DB
	queries *db.Queries
	logger  zerolog.Logger
	now     func() time.Time
}

// OpenSQL connects to dbURL and optionally applies migrations.
func OpenSQL(ctx context.Context, dbURL string, migrate bool, logger zerolog.Logger) (*SQLStore, error) {
	conn, err := db.Open(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := db.MigrateUp(ctx, conn, logger); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
	}
	s, err := NewSQL(conn, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL wraps an open, migrated connection.
func NewSQL(conn *sqlx.DB, logger zerolog.Logger) (*SQLStore, error) {
	q, err := db.LoadQueries(conn)
	if err != nil {
		return nil, err
	}
	return &SQLStore{
		db:      conn,
		queries: q,
		logger:  logger.With().Str("component", "jobstore.sql").Logger(),
		now:     time.Now,
	}, nil
}

// Create implements Store.
func (s *SQLStore) Create(ctx context.Context, snap types.RuleSnapshot, nextRunAt time.Time) (types.JobID, error) {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return "", err
	}
	id := types.NewJobID()
	now := toMillis(s.now())
	_, err = s.queries.Exec(ctx, "create-job", string(id), string(snap.RuleID), toMillis(nextRunAt), string(payload), now, now)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return "", fmt.Errorf("%w: %s", types.ErrJobExists, snap.RuleID)
		}
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	return id, nil
}

// ClaimDue implements Store.
func (s *SQLStore) ClaimDue(ctx context.Context, now time.Time, owner string, lease time.Duration) (*types.Job, error) {
	nowMs := toMillis(now)
	var ids []string
	if err := s.queries.Select(ctx, "list-due-jobs", &ids, nowMs, nowMs, claimBatch); err != nil {
		return nil, fmt.Errorf("failed to list due jobs: %w", err)
	}

	until := toMillis(now.Add(lease))
	for _, id := range ids {
		res, err := s.queries.Exec(ctx, "claim-job", owner, until, nowMs, id, nowMs, nowMs)
		if err != nil {
			return nil, fmt.Errorf("failed to claim job %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			continue
		}
		job, err := s.Get(ctx, types.JobID(id))
		if errors.Is(err, types.ErrJobNotFound) {
			// Deleted between claim and read.
			continue
		}
		return job, err
	}
	return nil, nil
}

// RenewLease implements Store.
func (s *SQLStore) RenewLease(ctx context.Context, id types.JobID, owner string, until time.Time) error {
	res, err := s.queries.Exec(ctx, "renew-lease", toMillis(until), toMillis(s.now()), string(id), owner)
	if err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	return s.checkOwned(ctx, res, id)
}

// Reschedule implements Store.
func (s *SQLStore) Reschedule(ctx context.Context, id types.JobID, out Outcome) error {
	res, err := s.queries.Exec(ctx, "reschedule-job",
		out.Revision, toMillis(out.DueAt), toMillis(out.NextRunAt),
		toMillis(out.RanAt), toMillis(s.now()),
		string(id), out.Owner)
	if err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	return s.checkOwned(ctx, res, id)
}

// Complete implements Store.
func (s *SQLStore) Complete(ctx context.Context, id types.JobID, owner string) error {
	res, err := s.queries.Exec(ctx, "complete-job", string(id), owner)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return s.checkOwned(ctx, res, id)
}

// Cancel implements Store.
func (s *SQLStore) Cancel(ctx context.Context, ruleID types.RuleID) error {
	res, err := s.queries.Exec(ctx, "cancel-rule-job", string(ruleID))
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	return requireRow(res, string(ruleID))
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, id types.JobID) error {
	res, err := s.queries.Exec(ctx, "delete-job", string(id))
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return requireRow(res, string(id))
}

// UpdateSnapshot implements Store.
func (s *SQLStore) UpdateSnapshot(ctx context.Context, id types.JobID, snap types.RuleSnapshot, nextRunAt *time.Time) error {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	now := toMillis(s.now())
	var res sql.Result
	if nextRunAt != nil {
		res, err = s.queries.Exec(ctx, "update-job-snapshot-next-run", string(payload), toMillis(*nextRunAt), now, string(id))
	} else {
		res, err = s.queries.Exec(ctx, "update-job-snapshot", string(payload), now, string(id))
	}
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return requireRow(res, string(id))
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, id types.JobID) (*types.Job, error) {
	return s.getBy(ctx, "get-job", string(id))
}

// GetByRule implements Store.
func (s *SQLStore) GetByRule(ctx context.Context, ruleID types.RuleID) (*types.Job, error) {
	return s.getBy(ctx, "get-job-by-rule", string(ruleID))
}

func (s *SQLStore) getBy(ctx context.Context, query, key string) (*types.Job, error) {
	var row jobRow
	if err := s.queries.Get(ctx, query, &row, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", types.ErrJobNotFound, key)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toJob()
}

// Ping implements Store.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// checkOwned maps a zero-row conditional write to ErrJobNotFound or ErrLeaseLost.
func (s *SQLStore) checkOwned(ctx context.Context, res sql.Result, id types.JobID) error {
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", types.ErrLeaseLost, id)
}

func requireRow(res sql.Result, key string) error {
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", types.ErrJobNotFound, key)
	}
	return nil
}
