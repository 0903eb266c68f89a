// Package pipeline is the Execution Pipeline: it takes one claimed
// row and runs it end-to-end — heartbeat loop, decode, publish, finalize.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/byrde/scheduler/internal/domain"
	"github.com/byrde/scheduler/internal/envelope"
)

// Store is the subset of store.Store the pipeline needs.
type Store interface {
	Heartbeat(ctx context.Context, taskName, taskInstance, workerID string, now time.Time) error
	Complete(ctx context.Context, taskName, taskInstance, workerID string) error
	Reschedule(ctx context.Context, taskName, taskInstance, workerID string, nextTime time.Time, outcome domain.Outcome, now time.Time) error
}

// Publisher is the broker-publish collaborator.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte, attributes map[string]string) (messageID string, err error)
}

// Config holds the pipeline's timing parameters, shared across every
// task a worker process runs.
type Config struct {
	LeaseHeartbeatInterval time.Duration
	PublishTimeout         time.Duration
	FailureBackoffBase     time.Duration
	FailureBackoffCeiling  time.Duration
	PoisonThreshold        int
}

// DefaultConfig matches the default deployment shape: lease_timeout=4m, so
// LeaseHeartbeatInterval is a quarter of that; base=30s, ceiling=1h.
func DefaultConfig(leaseTimeout time.Duration) Config {
	return Config{
		LeaseHeartbeatInterval: leaseTimeout / 4,
		PublishTimeout:         30 * time.Second,
		FailureBackoffBase:     30 * time.Second,
		FailureBackoffCeiling:  time.Hour,
		PoisonThreshold:        20,
	}
}

type Pipeline struct {
	store     Store
	publisher Publisher
	cfg       Config
	log       *zap.Logger
}

func New(store Store, publisher Publisher, cfg Config, log *zap.Logger) *Pipeline {
	return &Pipeline{store: store, publisher: publisher, cfg: cfg, log: log}
}

// Execute runs one claimed task end-to-end. ctx should be the worker
// pool's task context (cancelled on shutdown); Execute installs its own
// cancellation when the heartbeat reports the lease is lost.
func (p *Pipeline) Execute(ctx context.Context, task domain.Task, workerID string) {
	log := p.log.With(
		zap.String("task_name", task.TaskName),
		zap.String("task_instance", task.TaskInstance),
		zap.String("worker_id", workerID),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic recovered in pipeline execution", zap.Any("panic", r))
			p.finalizeFailure(ctx, task, workerID, errors.Wrapf(domain.ErrTransientPublish, "panic: %v", r), log)
		}
	}()

	hbCtx, cancelHB := context.WithCancel(ctx)
	var leaseLost atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.heartbeatLoop(hbCtx, task, workerID, &leaseLost, log)
		if leaseLost.Load() {
			cancelHB()
		}
	}()
	defer func() {
		cancelHB()
		wg.Wait()
	}()

	env, err := envelope.Decode(task.Data)
	if err != nil {
		log.Error("permanent decode failure", zap.Error(err))
		p.finalizeFailure(ctx, task, workerID, err, log)
		return
	}

	if hbCtx.Err() != nil || leaseLost.Load() {
		log.Warn("lease lost before publish; aborting without side effects")
		return
	}

	pubCtx, cancelPub := context.WithTimeout(hbCtx, p.cfg.PublishTimeout)
	messageID, err := p.publisher.Publish(pubCtx, env.Topic, env.Bytes, env.Attributes)
	cancelPub()

	if leaseLost.Load() {
		log.Warn("lease lost during publish; not finalizing")
		return
	}
	if err != nil {
		log.Warn("publish failed", zap.Error(err))
		p.finalizeFailure(ctx, task, workerID, errors.Wrap(domain.ErrTransientPublish, err.Error()), log)
		return
	}

	log.Info("published", zap.String("topic", env.Topic), zap.String("message_id", messageID))
	p.finalizeSuccess(ctx, task, env, workerID, log)
}

func (p *Pipeline) heartbeatLoop(ctx context.Context, task domain.Task, workerID string, leaseLost *atomic.Bool, log *zap.Logger) {
	ticker := time.NewTicker(p.cfg.LeaseHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(context.Background(), p.cfg.LeaseHeartbeatInterval/2)
			err := p.store.Heartbeat(hbCtx, task.TaskName, task.TaskInstance, workerID, time.Now().UTC())
			cancel()
			if errors.Is(err, domain.ErrLeaseLost) {
				leaseLost.Store(true)
				log.Warn("lease lost on heartbeat")
				return
			}
			if err != nil {
				log.Error("heartbeat error", zap.Error(err))
			}
		}
	}
}

func (p *Pipeline) finalizeSuccess(ctx context.Context, task domain.Task, env envelope.Envelope, workerID string, log *zap.Logger) {
	now := time.Now().UTC()

	if env.Descriptor.Kind == envelope.KindOneTime {
		if err := p.store.Complete(ctx, task.TaskName, task.TaskInstance, workerID); err != nil && !errors.Is(err, domain.ErrLeaseLost) {
			log.Error("complete failed", zap.Error(err))
		}
		return
	}

	schedule, err := envelope.DescriptorToSchedule(env.Descriptor)
	if err != nil {
		log.Error("descriptor decode failed after successful publish", zap.Error(err))
		return
	}
	next, ok := schedule.Next(now)
	if !ok {
		if err := p.store.Complete(ctx, task.TaskName, task.TaskInstance, workerID); err != nil && !errors.Is(err, domain.ErrLeaseLost) {
			log.Error("complete (exhausted schedule) failed", zap.Error(err))
		}
		return
	}
	if err := p.store.Reschedule(ctx, task.TaskName, task.TaskInstance, workerID, next, domain.OutcomeSuccess, now); err != nil && !errors.Is(err, domain.ErrLeaseLost) {
		log.Error("reschedule (success) failed", zap.Error(err))
	}
}

func (p *Pipeline) finalizeFailure(ctx context.Context, task domain.Task, workerID string, cause error, log *zap.Logger) {
	now := time.Now().UTC()
	backoff := p.backoffFor(task.ConsecutiveFailures + 1)

	if errors.Is(cause, domain.ErrPermanentDecode) {
		backoff = p.cfg.FailureBackoffCeiling
		log.Error("poisoned task rescheduled at backoff ceiling",
			zap.Int("data_len", len(task.Data)),
			zap.Int("consecutive_failures", task.ConsecutiveFailures+1))
	}

	if err := p.store.Reschedule(ctx, task.TaskName, task.TaskInstance, workerID, now.Add(backoff), domain.OutcomeFailure, now); err != nil && !errors.Is(err, domain.ErrLeaseLost) {
		log.Error("reschedule (failure) failed", zap.Error(err))
	}
}

// backoffFor implements min(base * 2^(failures-1), ceiling).
func (p *Pipeline) backoffFor(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := p.cfg.FailureBackoffBase * time.Duration(1<<uint(failures-1))
	if d > p.cfg.FailureBackoffCeiling || d <= 0 {
		return p.cfg.FailureBackoffCeiling
	}
	return d
}
