package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/model"
)

// RedisBroker carries job updates over Redis pub/sub. Each entity row has
// its own channel, prefixed with the configured channel name.
type RedisBroker struct {
	client  *redis.Client
	prefix  string
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewRedisBroker creates a broker on client publishing under prefix.
func NewRedisBroker(client *redis.Client, prefix string, logger *zap.Logger, metrics *observability.Metrics) *RedisBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "job_updates"
	}
	return &RedisBroker{client: client, prefix: prefix, logger: logger, metrics: metrics}
}

func (b *RedisBroker) channel(et model.EntityType, entityID string) string {
	return b.prefix + ":" + topic(et, entityID)
}

// Publish sends the job as JSON on its entity row channel.
func (b *RedisBroker) Publish(ctx context.Context, job model.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	if err := b.client.Publish(ctx, b.channel(job.Entity, job.EntityID), payload).Err(); err != nil {
		return fmt.Errorf("publish job %s: %w", job.ID, err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription. It returns once Redis has
// confirmed the subscription.
func (b *RedisBroker) Subscribe(ctx context.Context, et model.EntityType, entityID string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, b.channel(et, entityID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic(et, entityID), err)
	}

	sub := &redisSubscription{
		ps:   ps,
		ch:   make(chan model.Job, subscriptionBuffer),
		done: make(chan struct{}),
	}
	b.metrics.AddJobSubscriptions("redis", 1)

	go func() {
		defer close(sub.ch)
		defer b.metrics.AddJobSubscriptions("redis", -1)

		for msg := range ps.Channel() {
			var job model.Job
			if err := json.Unmarshal([]byte(msg.Payload), &job); err != nil {
				b.logger.Warn("malformed job update",
					zap.String("channel", msg.Channel),
					zap.Error(err),
				)
				continue
			}
			select {
			case sub.ch <- job:
			case <-sub.done:
				return
			}
		}
	}()
	return sub, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	ch   chan model.Job
	once sync.Once
	done chan struct{}
}

func (s *redisSubscription) Updates() <-chan model.Job { return s.ch }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
