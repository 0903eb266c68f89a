package polling

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/byrde/scheduler/internal/domain"
)

type fakeStore struct {
	mu           sync.Mutex
	heartbeats   int
	recoverCalls int
	recoverN     int
	claimErr     error
	pending      []domain.Task
	claimedCalls [][]string // task instances claimed per call
}

func (f *fakeStore) UpsertWorkerHeartbeat(ctx context.Context, workerID string, now time.Time, shardCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func (f *fakeStore) RecoverLeases(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recoverCalls++
	return f.recoverN, nil
}

func (f *fakeStore) ClaimDue(ctx context.Context, now time.Time, workerID string, batchSize int, shardPredicate string) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	n := batchSize
	if n > len(f.pending) {
		n = len(f.pending)
	}
	claimed := f.pending[:n]
	f.pending = f.pending[n:]

	var names []string
	for _, t := range claimed {
		names = append(names, t.TaskInstance)
	}
	f.claimedCalls = append(f.claimedCalls, names)
	return claimed, nil
}

type fakeRouter struct{}

func (fakeRouter) Predicate(workerID string) string { return "" }
func (fakeRouter) ShardCount() int                  { return 1 }

type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
	block    chan struct{} // if non-nil, Execute blocks on it until closed
}

func (e *fakeExecutor) Execute(ctx context.Context, task domain.Task, workerID string) {
	if e.block != nil {
		<-e.block
	}
	e.mu.Lock()
	e.executed = append(e.executed, task.TaskInstance)
	e.mu.Unlock()
}

func (e *fakeExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.executed)
}

func testCfg() Config {
	return Config{
		WorkerID:        "w1",
		PollingInterval: 10 * time.Millisecond,
		BatchSize:       10,
		MaxThreads:      4,
		LeaseTimeout:    time.Minute,
	}
}

func TestTickClaimsAndExecutesPendingTasks(t *testing.T) {
	st := &fakeStore{pending: []domain.Task{
		{TaskName: domain.PublishPayloadTaskName, TaskInstance: "a"},
		{TaskName: domain.PublishPayloadTaskName, TaskInstance: "b"},
	}}
	ex := &fakeExecutor{}
	l := New(st, fakeRouter{}, ex, testCfg(), zaptest.NewLogger(t))

	l.tick(context.Background())

	deadline := time.Now().Add(time.Second)
	for ex.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if ex.count() != 2 {
		t.Fatalf("want 2 executions, got %d", ex.count())
	}
	if st.heartbeats != 1 {
		t.Fatalf("want 1 heartbeat upsert, got %d", st.heartbeats)
	}
	if st.recoverCalls != 1 {
		t.Fatalf("want 1 recover-leases call, got %d", st.recoverCalls)
	}
}

func TestTickRespectsMaxThreadsCapacity(t *testing.T) {
	pending := make([]domain.Task, 0, 10)
	for i := 0; i < 10; i++ {
		pending = append(pending, domain.Task{TaskName: domain.PublishPayloadTaskName, TaskInstance: string(rune('a' + i))})
	}
	st := &fakeStore{pending: pending}
	block := make(chan struct{})
	ex := &fakeExecutor{block: block}
	cfg := testCfg()
	cfg.MaxThreads = 3
	cfg.BatchSize = 10
	l := New(st, fakeRouter{}, ex, cfg, zaptest.NewLogger(t))

	l.tick(context.Background())

	// idleCapacity() should have reported 3, so ClaimDue is asked for at
	// most 3 rows even though BatchSize and pending allow for 10.
	if len(st.claimedCalls) != 1 || len(st.claimedCalls[0]) != 3 {
		t.Fatalf("want exactly 3 rows claimed under MaxThreads=3, got %+v", st.claimedCalls)
	}
	close(block)
}

func TestTickSkipsClaimWhenPoolSaturated(t *testing.T) {
	st := &fakeStore{}
	ex := &fakeExecutor{}
	cfg := testCfg()
	cfg.MaxThreads = 2
	l := New(st, fakeRouter{}, ex, cfg, zaptest.NewLogger(t))

	// Exhaust the pool externally before ticking.
	if !l.sem.TryAcquire(2) {
		t.Fatal("expected to acquire full capacity")
	}

	l.tick(context.Background())

	if len(st.claimedCalls) != 0 {
		t.Fatalf("expected no ClaimDue call when idle capacity is zero, got %+v", st.claimedCalls)
	}
	l.sem.Release(2)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	st := &fakeStore{}
	ex := &fakeExecutor{}
	l := New(st, fakeRouter{}, ex, testCfg(), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	var done atomic.Bool
	go func() {
		l.Run(ctx)
		done.Store(true)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	deadline := time.Now().Add(time.Second)
	for !done.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !done.Load() {
		t.Fatal("expected Run to return after context cancellation")
	}
}
