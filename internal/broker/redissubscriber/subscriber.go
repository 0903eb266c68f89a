// Package redissubscriber is the Ingress Broker Subscriber: it
// decodes the same JSON envelope the HTTP surface accepts off a Redis
// pub/sub channel and funnels it into the Registry.
package redissubscriber

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/byrde/scheduler/internal/domain"
	"github.com/byrde/scheduler/internal/retry"
)

// Subscriber reads schedule requests off a Redis channel. Because Redis
// pub/sub has no nack/redelivery primitive, the policy here collapses
// to: drop (log and move on) on validation or permanent-decode-shaped
// errors, retry with jitter on transient store errors before dropping.
type Subscriber struct {
	rdb     *redis.Client
	channel string
	submit  func(ctx context.Context, body []byte) error
	log     *zap.Logger
}

// New builds a Subscriber over channel, calling submit for each message
// body it receives. submit is expected to decode the wire JSON and call
// registry.Registry.Submit; it is injected so this package never imports
// the registry or ingress packages directly.
func New(rdb *redis.Client, channel string, submit func(ctx context.Context, body []byte) error, log *zap.Logger) *Subscriber {
	return &Subscriber{rdb: rdb, channel: channel, submit: submit, log: log}
}

// Run blocks, consuming messages until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.rdb.Subscribe(ctx, s.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, body []byte) {
	err := retry.Do(ctx, 3, 200*time.Millisecond, func(ctx context.Context) error {
		err := s.submit(ctx, body)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrTransientStore) {
			return err // retryable
		}
		// ValidationError, DuplicateInstance, PermanentDecode and anything
		// else are logged and dropped — retrying them can't help.
		s.log.Warn("dropping schedule request", zap.Error(err))
		return nil
	})
	if err != nil {
		s.log.Error("schedule request dropped after retries exhausted", zap.Error(err))
	}
}
