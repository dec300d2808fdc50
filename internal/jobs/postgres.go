package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/model"
)

// Notifier publishes a payload on a LISTEN/NOTIFY channel.
// *store.PGStore satisfies it.
type Notifier interface {
	Notify(ctx context.Context, channel, payload string) error
}

// Listener is the part of *pq.Listener the broker drives.
type Listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// NewPQListener opens a lib/pq listener on dsn that logs connection events.
func NewPQListener(dsn string, logger *zap.Logger) *pq.Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			logger.Info("job update listener connected")
		case pq.ListenerEventDisconnected:
			logger.Warn("job update listener disconnected", zap.Error(err))
		case pq.ListenerEventReconnected:
			logger.Info("job update listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Warn("job update listener connection failed", zap.Error(err))
		}
	})
}

// listenerPingInterval keeps an idle listener connection verified.
const listenerPingInterval = 90 * time.Second

// PGBroker carries job updates over PostgreSQL LISTEN/NOTIFY. All updates
// share one channel; the listener fans them out to local subscribers.
type PGBroker struct {
	notifier Notifier
	listener Listener
	channel  string
	local    *MemoryBroker
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewPGBroker creates a broker publishing through notifier and receiving
// through listener on channel.
func NewPGBroker(notifier Notifier, listener Listener, channel string, logger *zap.Logger, metrics *observability.Metrics) *PGBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if channel == "" {
		channel = "job_updates"
	}
	return &PGBroker{
		notifier: notifier,
		listener: listener,
		channel:  channel,
		local:    newFanout("postgres", logger, metrics),
		logger:   logger,
		metrics:  metrics,
	}
}

// Publish sends the job as a JSON notification.
func (b *PGBroker) Publish(ctx context.Context, job model.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return b.notifier.Notify(ctx, b.channel, string(payload))
}

// Subscribe opens a local subscription fed by the listener.
func (b *PGBroker) Subscribe(ctx context.Context, et model.EntityType, entityID string) (Subscription, error) {
	return b.local.Subscribe(ctx, et, entityID)
}

// Run listens on the channel and dispatches notifications until ctx is
// done. It closes the listener and every subscription on return.
func (b *PGBroker) Run(ctx context.Context) error {
	if err := b.listener.Listen(b.channel); err != nil {
		return fmt.Errorf("listen %s: %w", b.channel, err)
	}
	defer func() {
		_ = b.listener.Close()
		_ = b.local.Close()
	}()

	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	notifications := b.listener.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			// A nil notification follows a reconnect; updates sent while
			// disconnected are lost.
			if n == nil {
				continue
			}
			b.dispatch(ctx, n.Extra)
		case <-ticker.C:
			if err := b.listener.Ping(); err != nil {
				b.logger.Warn("job update listener ping failed", zap.Error(err))
			}
		}
	}
}

func (b *PGBroker) dispatch(ctx context.Context, payload string) {
	var job model.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		b.logger.Warn("malformed job notification", zap.Error(err))
		return
	}
	_ = b.local.Publish(ctx, job)
}
