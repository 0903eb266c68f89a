// Package polling is the Polling Loop: one per worker process,
// claiming due tasks in bounded batches and handing them to a bounded
// worker pool without ever blocking on execution.
package polling

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/byrde/scheduler/internal/domain"
)

// Store is the subset of store.Store the polling loop needs directly
// (claiming and lease recovery; heartbeats and finalization happen
// inside the pipeline).
type Store interface {
	ClaimDue(ctx context.Context, now time.Time, workerID string, batchSize int, shardPredicate string) ([]domain.Task, error)
	RecoverLeases(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error)
	UpsertWorkerHeartbeat(ctx context.Context, workerID string, now time.Time, shardCount int) error
}

// Router supplies the Shard Router's narrowing predicate for a worker.
type Router interface {
	Predicate(workerID string) string
	ShardCount() int
}

// Executor runs one claimed task to completion. Implemented by
// *pipeline.Pipeline in production; Execute may block until the task is
// finished, since the loop calls it inside its own goroutine via the
// semaphore-gated pool.
type Executor interface {
	Execute(ctx context.Context, task domain.Task, workerID string)
}

// Config holds the polling loop's timing and capacity parameters.
type Config struct {
	WorkerID        string
	PollingInterval time.Duration
	BatchSize       int
	MaxThreads      int
	LeaseTimeout    time.Duration
}

// Loop is one worker process's polling loop.
type Loop struct {
	store    Store
	router   Router
	executor Executor
	cfg      Config
	log      *zap.Logger

	sem      *semaphore.Weighted
	tickBusy atomic.Bool
}

func New(store Store, router Router, executor Executor, cfg Config, log *zap.Logger) *Loop {
	return &Loop{
		store:    store,
		router:   router,
		executor: executor,
		cfg:      cfg,
		log:      log,
		sem:      semaphore.NewWeighted(int64(cfg.MaxThreads)),
	}
}

// Run blocks, ticking every PollingInterval, until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Overlap guard: a slow tick (e.g. a stuck RecoverLeases call)
			// never causes two ticks to run concurrently.
			if !l.tickBusy.CompareAndSwap(false, true) {
				continue
			}
			go func() {
				defer l.tickBusy.Store(false)
				l.tick(ctx)
			}()
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	now := time.Now().UTC()

	if err := l.store.UpsertWorkerHeartbeat(ctx, l.cfg.WorkerID, now, l.router.ShardCount()); err != nil {
		l.log.Error("worker heartbeat upsert failed", zap.Error(err))
	}

	released, err := l.store.RecoverLeases(ctx, now, l.cfg.LeaseTimeout)
	if err != nil {
		l.log.Error("recover leases failed", zap.Error(err))
		return
	}
	if released > 0 {
		l.log.Warn("recovered stale leases", zap.Int("count", released))
	}

	idle := l.idleCapacity()
	if idle <= 0 {
		return
	}

	batch := l.cfg.BatchSize
	if idle < batch {
		batch = idle
	}

	claimed, err := l.store.ClaimDue(ctx, now, l.cfg.WorkerID, batch, l.router.Predicate(l.cfg.WorkerID))
	if err != nil {
		l.log.Error("claim due failed", zap.Error(err))
		return
	}

	for _, task := range claimed {
		if !l.sem.TryAcquire(1) {
			// Pool filled up between idleCapacity() and here; the row
			// stays picked=true with no pipeline heartbeating it, so
			// RecoverLeases releases it once its lease goes stale.
			l.log.Warn("worker pool saturated after claim", zap.String("task_instance", task.TaskInstance))
			continue
		}
		go func(t domain.Task) {
			defer l.sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					l.log.Error("panic recovered in task dispatch",
						zap.String("task_instance", t.TaskInstance), zap.Any("panic", r))
				}
			}()
			l.executor.Execute(ctx, t, l.cfg.WorkerID)
		}(task)
	}
}

func (l *Loop) idleCapacity() int {
	// golang.org/x/sync/semaphore has no "peek" API, so capacity is
	// measured by attempting non-blocking acquisitions one at a time up
	// to MaxThreads and releasing them all — this is O(MaxThreads) but
	// MaxThreads is small (tens) and this only runs once per tick.
	acquired := 0
	for acquired < l.cfg.MaxThreads {
		if !l.sem.TryAcquire(1) {
			break
		}
		acquired++
	}
	for i := 0; i < acquired; i++ {
		l.sem.Release(1)
	}
	return acquired
}
