package jobs

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/model"
)

// ErrBrokerClosed is returned by a broker that has been shut down.
var ErrBrokerClosed = errors.New("jobs: broker closed")

// subscriptionBuffer is the number of updates a slow subscriber may lag
// behind before further updates to it are dropped.
const subscriptionBuffer = 32

// Broker carries job row updates to the subscribers of one entity row.
type Broker interface {
	// Publish delivers the updated job to the subscribers of its
	// (entity, entity_id) pair.
	Publish(ctx context.Context, job model.Job) error
	// Subscribe opens a subscription to the updates of one entity row.
	Subscribe(ctx context.Context, et model.EntityType, entityID string) (Subscription, error)
}

// Subscription is an open stream of job updates.
type Subscription interface {
	Updates() <-chan model.Job
	// Close ends the subscription. The updates channel is closed after it.
	Close() error
}

// topic names the update stream of one entity row.
func topic(et model.EntityType, entityID string) string {
	return string(et) + ":" + entityID
}

// MemoryBroker fans updates out to in-process subscribers. It serves tests
// and single-node deployments, and is the local fan-out behind PGBroker.
type MemoryBroker struct {
	name    string
	logger  *zap.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker(logger *zap.Logger, metrics *observability.Metrics) *MemoryBroker {
	return newFanout("memory", logger, metrics)
}

func newFanout(name string, logger *zap.Logger, metrics *observability.Metrics) *MemoryBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBroker{
		name:    name,
		logger:  logger,
		metrics: metrics,
		subs:    make(map[string]map[*memorySubscription]struct{}),
	}
}

// Publish delivers job to every subscriber of its entity row. A subscriber
// whose buffer is full misses the update.
func (b *MemoryBroker) Publish(_ context.Context, job model.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}
	for sub := range b.subs[topic(job.Entity, job.EntityID)] {
		select {
		case sub.ch <- job:
		default:
			b.logger.Warn("job update dropped for slow subscriber",
				zap.String("job_id", job.ID),
				zap.String("entity", string(job.Entity)),
				zap.String("entity_id", job.EntityID),
			)
		}
	}
	return nil
}

// Subscribe opens a subscription to the updates of one entity row.
func (b *MemoryBroker) Subscribe(_ context.Context, et model.EntityType, entityID string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}
	key := topic(et, entityID)
	sub := &memorySubscription{broker: b, key: key, ch: make(chan model.Job, subscriptionBuffer)}
	if b.subs[key] == nil {
		b.subs[key] = make(map[*memorySubscription]struct{})
	}
	b.subs[key][sub] = struct{}{}
	b.metrics.AddJobSubscriptions(b.name, 1)
	return sub, nil
}

// Subscribers returns the number of open subscriptions for one entity row.
func (b *MemoryBroker) Subscribers(et model.EntityType, entityID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic(et, entityID)])
}

// Close ends every open subscription.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for key, set := range b.subs {
		for sub := range set {
			sub.closeLocked()
		}
		delete(b.subs, key)
	}
	return nil
}

func (b *MemoryBroker) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[sub.key]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.key)
	}
	sub.closeLocked()
}

type memorySubscription struct {
	broker *MemoryBroker
	key    string
	ch     chan model.Job
	done   bool
}

func (s *memorySubscription) Updates() <-chan model.Job { return s.ch }

func (s *memorySubscription) Close() error {
	s.broker.remove(s)
	return nil
}

// closeLocked must be called with the broker lock held.
func (s *memorySubscription) closeLocked() {
	if s.done {
		return
	}
	s.done = true
	close(s.ch)
	s.broker.metrics.AddJobSubscriptions(s.broker.name, -1)
}
