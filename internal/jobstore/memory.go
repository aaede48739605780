// internal/jobstore/memory.go
package jobstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/solatis/tripwire/internal/types"
)

// Memory is an in-process Store for tests and single-process runs.
// Payloads are kept encoded so callers never share state with the store.
type Memory struct {
	mu     sync.Mutex
	jobs   map[types.JobID]*memJob
	byRule map[types.RuleID]types.JobID
	now    func() time.Time
}

type memJob struct {
	job     types.Job // Payload left zero
	payload []byte
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:   make(map[types.JobID]*memJob),
		byRule: make(map[types.RuleID]types.JobID),
		now:    time.Now,
	}
}

// Create implements Store.
func (m *Memory) Create(_ context.Context, snap types.RuleSnapshot, nextRunAt time.Time) (types.JobID, error) {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byRule[snap.RuleID]; exists {
		return "", fmt.Errorf("%w: %s", types.ErrJobExists, snap.RuleID)
	}
	now := truncMillis(m.now())
	id := types.NewJobID()
	m.jobs[id] = &memJob{
		job: types.Job{
			ID:        id,
			RuleID:    snap.RuleID,
			NextRunAt: truncMillis(nextRunAt),
			CreatedAt: now,
			UpdatedAt: now,
		},
		payload: payload,
	}
	m.byRule[snap.RuleID] = id
	return id, nil
}

// ClaimDue implements Store.
func (m *Memory) ClaimDue(_ context.Context, now time.Time, owner string, lease time.Duration) (*types.Job, error) {
	now = truncMillis(now)
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*memJob
	for _, j := range m.jobs {
		if j.job.NextRunAt.After(now) {
			continue
		}
		if j.job.LockExpiresAt != nil && j.job.LockExpiresAt.After(now) {
			continue
		}
		due = append(due, j)
	}
	if len(due) == 0 {
		return nil, nil
	}
	sort.Slice(due, func(a, b int) bool {
		if !due[a].job.NextRunAt.Equal(due[b].job.NextRunAt) {
			return due[a].job.NextRunAt.Before(due[b].job.NextRunAt)
		}
		return due[a].job.ID < due[b].job.ID
	})

	j := due[0]
	until := truncMillis(now.Add(lease))
	j.job.LockOwner = owner
	j.job.LockExpiresAt = &until
	j.job.UpdatedAt = now
	return j.snapshot()
}

// RenewLease implements Store.
func (m *Memory) RenewLease(_ context.Context, id types.JobID, owner string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.owned(id, owner)
	if err != nil {
		return err
	}
	until = truncMillis(until)
	j.job.LockExpiresAt = &until
	j.job.UpdatedAt = truncMillis(m.now())
	return nil
}

// Reschedule implements Store.
func (m *Memory) Reschedule(_ context.Context, id types.JobID, out Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.owned(id, out.Owner)
	if err != nil {
		return err
	}
	if j.job.Revision == out.Revision || j.job.NextRunAt.Equal(truncMillis(out.DueAt)) {
		j.job.NextRunAt = truncMillis(out.NextRunAt)
	}
	ran := truncMillis(out.RanAt)
	j.job.LastRunAt = &ran
	j.job.LockOwner = ""
	j.job.LockExpiresAt = nil
	j.job.UpdatedAt = truncMillis(m.now())
	return nil
}

// Complete implements Store.
func (m *Memory) Complete(_ context.Context, id types.JobID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.owned(id, owner)
	if err != nil {
		return err
	}
	m.remove(j)
	return nil
}

// Cancel implements Store.
func (m *Memory) Cancel(_ context.Context, ruleID types.RuleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byRule[ruleID]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrJobNotFound, ruleID)
	}
	m.remove(m.jobs[id])
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, id types.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}
	m.remove(j)
	return nil
}

// UpdateSnapshot implements Store.
func (m *Memory) UpdateSnapshot(_ context.Context, id types.JobID, snap types.RuleSnapshot, nextRunAt *time.Time) error {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}
	j.payload = payload
	j.job.Revision++
	if nextRunAt != nil {
		j.job.NextRunAt = truncMillis(*nextRunAt)
	}
	j.job.UpdatedAt = truncMillis(m.now())
	return nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, id types.JobID) (*types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}
	return j.snapshot()
}

// GetByRule implements Store.
func (m *Memory) GetByRule(ctx context.Context, ruleID types.RuleID) (*types.Job, error) {
	m.mu.Lock()
	id, ok := m.byRule[ruleID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrJobNotFound, ruleID)
	}
	return m.Get(ctx, id)
}

// Ping implements Store.
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements Store.
func (m *Memory) Close() error { return nil }

// Len returns the number of stored jobs.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *Memory) owned(id types.JobID, owner string) (*memJob, error) {
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}
	if owner == "" || j.job.LockOwner != owner {
		return nil, fmt.Errorf("%w: %s", types.ErrLeaseLost, id)
	}
	return j, nil
}

func (m *Memory) remove(j *memJob) {
	delete(m.jobs, j.job.ID)
	if m.byRule[j.job.RuleID] == j.job.ID {
		delete(m.byRule, j.job.RuleID)
	}
}

// snapshot returns a detached copy of the job. Caller holds the lock.
func (j *memJob) snapshot() (*types.Job, error) {
	snap, err := decodeSnapshot(j.payload)
	if err != nil {
		return nil, err
	}
	out := j.job
	out.Payload = snap
	if j.job.LockExpiresAt != nil {
		t := *j.job.LockExpiresAt
		out.LockExpiresAt = &t
	}
	if j.job.LastRunAt != nil {
		t := *j.job.LastRunAt
		out.LastRunAt = &t
	}
	return &out, nil
}

func truncMillis(t time.Time) time.Time {
	return fromMillis(toMillis(t))
}
