package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/solatis/tripwire/internal/facts"
	"github.com/solatis/tripwire/internal/jobstore"
	"github.com/solatis/tripwire/internal/notify"
	"github.com/solatis/tripwire/internal/types"
)

// 2026-03-10 is after the March DST switch: New York is UTC-4.
var (
	dueDaily   = time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC) // 14:00 EDT
	nextDaily  = time.Date(2026, 3, 11, 18, 0, 0, 0, time.UTC)
	morningNY  = time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC) // 09:00 EDT
	noonNY     = time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC)
	tomorrowNY = time.Date(2026, 3, 11, 13, 0, 0, 0, time.UTC)
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) Send(_ context.Context, channel types.Channel, recipient, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, fmt.Sprintf("%s:%s:%s", channel, recipient, message))
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type harness struct {
	store    *jobstore.Memory
	facts    *facts.Registry
	notifier *recordingNotifier
	clock    *clock
	balance  func(ctx context.Context) (any, error)
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	h := &harness{
		store:    jobstore.NewMemory(),
		facts:    facts.NewRegistry(),
		notifier: &recordingNotifier{},
		clock:    &clock{t: now},
		balance:  func(context.Context) (any, error) { return 150, nil },
	}
	err := h.facts.RegisterFunc("balance.available", func(ctx context.Context, _ map[string]any) (any, error) {
		return h.balance(ctx)
	})
	if err != nil {
		t.Fatalf("RegisterFunc() error = %v", err)
	}
	return h
}

func (h *harness) worker(t *testing.T, id string) *Worker {
	t.Helper()
	w, err := New(Config{
		ID:              id,
		LeaseDuration:   time.Minute,
		EvalTimeout:     time.Second,
		FinalizeBackoff: time.Millisecond,
		Now:             h.clock.Now,
	}, h.store, h.facts, notify.NewDispatcher(h.notifier, zerolog.Nop(), time.Second), zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return w
}

func (h *harness) schedule(t *testing.T, snap types.RuleSnapshot, next time.Time) types.JobID {
	t.Helper()
	id, err := h.store.Create(context.Background(), snap, next)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return id
}

func rule(id string, sched types.Schedule) types.RuleSnapshot {
	return types.RuleSnapshot{
		RuleID:       types.RuleID(id),
		SubscriberID: "sub-1",
		Condition: &types.Clause{
			Fact:     types.FactRef{ID: "balance.available"},
			Operator: "greaterThanInclusive",
			Value:    types.Literal(100),
		},
		Event: types.Event{
			ChannelTypes: []types.Channel{types.ChannelSMS},
			Recipients: []types.Recipient{
				{Channel: types.ChannelSMS, Address: "+15550100"},
				{Channel: types.ChannelEmail, Address: "off@example.com"},
			},
			Message: "balance reached 100",
		},
		Schedule: sched,
		IsActive: true,
	}
}

func daily() types.Schedule {
	return types.Schedule{
		Frequency:  types.FrequencyDaily,
		TimeZone:   "America/New_York",
		DailyTimes: []types.WallTime{types.MustWallTime("14:00")},
	}
}

func runOnce(t *testing.T, w *Worker) TickStats {
	t.Helper()
	stats, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	return stats
}

func TestRunOnce_DailySatisfied(t *testing.T) {
	h := newHarness(t, dueDaily.Add(time.Second))
	id := h.schedule(t, rule("r1", daily()), dueDaily)

	stats := runOnce(t, h.worker(t, "w1"))
	if stats.Claimed != 1 || stats.Fired != 1 || stats.Rescheduled != 1 {
		t.Errorf("stats = %+v, want 1 claimed, fired and rescheduled", stats)
	}
	if h.notifier.count() != 1 {
		t.Errorf("sent %d notifications, want 1 (email channel disabled)", h.notifier.count())
	}

	job, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !job.NextRunAt.Equal(nextDaily) {
		t.Errorf("NextRunAt = %v, want %v", job.NextRunAt, nextDaily)
	}
	if job.LockOwner != "" {
		t.Errorf("LockOwner = %q, want released", job.LockOwner)
	}
	if job.LastRunAt == nil || !job.LastRunAt.Equal(dueDaily.Add(time.Second)) {
		t.Errorf("LastRunAt = %v, want %v", job.LastRunAt, dueDaily.Add(time.Second))
	}
}

func TestRunOnce_ConditionOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		balance   func(context.Context) (any, error)
		wantSent  int
		wantFired int
		wantFail  int
	}{
		{"below threshold", func(context.Context) (any, error) { return 99.5, nil }, 0, 0, 0},
		{"numeric string", func(context.Context) (any, error) { return "100", nil }, 1, 1, 0},
		{"resolver down", func(context.Context) (any, error) {
			return nil, fmt.Errorf("%w: core banking timeout", types.ErrResolverUnavailable)
		}, 0, 0, 1},
		{"non numeric", func(context.Context) (any, error) { return true, nil }, 0, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, dueDaily.Add(time.Second))
			h.balance = tt.balance
			id := h.schedule(t, rule("r1", daily()), dueDaily)

			stats := runOnce(t, h.worker(t, "w1"))
			if stats.Fired != tt.wantFired || stats.Failed != tt.wantFail {
				t.Errorf("stats = %+v, want fired %d failed %d", stats, tt.wantFired, tt.wantFail)
			}
			if h.notifier.count() != tt.wantSent {
				t.Errorf("sent %d, want %d", h.notifier.count(), tt.wantSent)
			}

			// Every outcome keeps the natural cadence.
			job, err := h.store.Get(context.Background(), id)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !job.NextRunAt.Equal(nextDaily) {
				t.Errorf("NextRunAt = %v, want %v", job.NextRunAt, nextDaily)
			}
		})
	}
}

func TestRunOnce_PastOnceCompletes(t *testing.T) {
	h := newHarness(t, dueDaily.Add(time.Second))
	date := types.MustWallTime("2026-03-10T14:00")
	h.schedule(t, rule("r1", types.Schedule{
		Frequency: types.FrequencyOnce,
		TimeZone:  "America/New_York",
		Date:      &date,
	}), dueDaily)

	stats := runOnce(t, h.worker(t, "w1"))
	if stats.Completed != 1 || stats.Fired != 1 {
		t.Errorf("stats = %+v, want fired and completed", stats)
	}
	if _, err := h.store.GetByRule(context.Background(), "r1"); !errors.Is(err, types.ErrJobNotFound) {
		t.Errorf("GetByRule() error = %v, want ErrJobNotFound", err)
	}
}

func TestRunOnce_InactiveRuleCompletes(t *testing.T) {
	h := newHarness(t, dueDaily.Add(time.Second))
	snap := rule("r1", daily())
	snap.IsActive = false
	h.schedule(t, snap, dueDaily)

	stats := runOnce(t, h.worker(t, "w1"))
	if stats.Completed != 1 || h.notifier.count() != 0 {
		t.Errorf("stats = %+v sent = %d, want completed without notifying", stats, h.notifier.count())
	}
	if h.store.Len() != 0 {
		t.Errorf("store has %d jobs, want 0", h.store.Len())
	}
}

func TestRunOnce_OnTruth(t *testing.T) {
	onTruth := types.Schedule{Frequency: types.FrequencyOnTruth, TimeZone: "America/New_York"}
	tests := []struct {
		name    string
		balance any
		want    time.Time
	}{
		{"satisfied waits for tomorrow", 500, tomorrowNY},
		{"unsatisfied tries next slot", 5, noonNY},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, morningNY.Add(time.Second))
			h.balance = func(context.Context) (any, error) { return tt.balance, nil }
			id := h.schedule(t, rule("r1", onTruth), morningNY)

			runOnce(t, h.worker(t, "w1"))
			job, err := h.store.Get(context.Background(), id)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !job.NextRunAt.Equal(tt.want) {
				t.Errorf("NextRunAt = %v, want %v", job.NextRunAt, tt.want)
			}
		})
	}
}

func TestRunOnce_JobCancelledDuringEvaluation(t *testing.T) {
	h := newHarness(t, dueDaily.Add(time.Second))
	h.schedule(t, rule("r1", daily()), dueDaily)
	h.balance = func(ctx context.Context) (any, error) {
		if err := h.store.Cancel(ctx, "r1"); err != nil {
			t.Errorf("Cancel() error = %v", err)
		}
		return 150, nil
	}

	stats := runOnce(t, h.worker(t, "w1"))
	if stats.Rescheduled != 0 || stats.Completed != 0 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want no write-back", stats)
	}
	if h.store.Len() != 0 {
		t.Errorf("store has %d jobs, want cancelled job to stay gone", h.store.Len())
	}
}

func TestRunOnce_LeaseTakenOver(t *testing.T) {
	h := newHarness(t, dueDaily.Add(time.Second))
	id := h.schedule(t, rule("r1", daily()), dueDaily)
	h.balance = func(ctx context.Context) (any, error) {
		// Another worker reclaims after the lease would have expired.
		if _, err := h.store.ClaimDue(ctx, dueDaily.Add(time.Hour), "w2", time.Minute); err != nil {
			t.Errorf("ClaimDue(w2) error = %v", err)
		}
		return 150, nil
	}

	stats := runOnce(t, h.worker(t, "w1"))
	if stats.Rescheduled != 0 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want silent skip", stats)
	}
	job, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.LockOwner != "w2" || !job.NextRunAt.Equal(dueDaily) {
		t.Errorf("job = owner %q next %v, want untouched w2 claim", job.LockOwner, job.NextRunAt)
	}
}

func TestRunOnce_DeactivatedDuringEvaluation(t *testing.T) {
	h := newHarness(t, dueDaily.Add(time.Second))
	id := h.schedule(t, rule("r1", daily()), dueDaily)
	h.balance = func(ctx context.Context) (any, error) {
		snap := rule("r1", daily())
		snap.IsActive = false
		if err := h.store.UpdateSnapshot(ctx, id, snap, nil); err != nil {
			t.Errorf("UpdateSnapshot() error = %v", err)
		}
		return 150, nil
	}

	stats := runOnce(t, h.worker(t, "w1"))
	if stats.Completed != 1 {
		t.Errorf("stats = %+v, want completed", stats)
	}
	if h.store.Len() != 0 {
		t.Errorf("store has %d jobs, want 0", h.store.Len())
	}
}

func TestRunOnce_WorkersShareJobs(t *testing.T) {
	h := newHarness(t, dueDaily.Add(time.Second))
	const jobs = 12
	for i := 0; i < jobs; i++ {
		h.schedule(t, rule(fmt.Sprintf("r%d", i), daily()), dueDaily)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := 0
	for _, id := range []string{"w1", "w2", "w3"} {
		w := h.worker(t, id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := w.RunOnce(context.Background())
			if err != nil {
				t.Errorf("RunOnce() error = %v", err)
			}
			mu.Lock()
			claimed += stats.Claimed
			mu.Unlock()
		}()
	}
	wg.Wait()

	if claimed != jobs {
		t.Errorf("claimed %d, want %d", claimed, jobs)
	}
	if h.notifier.count() != jobs {
		t.Errorf("sent %d, want one per job (%d)", h.notifier.count(), jobs)
	}
}

func TestRunOnce_MaxClaimsPerTick(t *testing.T) {
	h := newHarness(t, dueDaily.Add(time.Second))
	for i := 0; i < 5; i++ {
		h.schedule(t, rule(fmt.Sprintf("r%d", i), daily()), dueDaily)
	}
	w, err := New(Config{ID: "w1", MaxClaimsPerTick: 2, Concurrency: 1, Now: h.clock.Now},
		h.store, h.facts, notify.NewDispatcher(h.notifier, zerolog.Nop(), time.Second), zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if stats := runOnce(t, w); stats.Claimed != 2 {
		t.Errorf("Claimed = %d, want 2", stats.Claimed)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"eval shorter than lease", Config{LeaseDuration: time.Minute, EvalTimeout: 10 * time.Second}, false},
		{"eval equals lease", Config{LeaseDuration: time.Minute, EvalTimeout: time.Minute}, true},
		{"eval longer than default lease", Config{EvalTimeout: 2 * time.Minute}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, dueDaily.Add(time.Second))
	h.schedule(t, rule("r1", daily()), dueDaily)
	w := h.worker(t, "w1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for h.notifier.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("first tick did not fire")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
