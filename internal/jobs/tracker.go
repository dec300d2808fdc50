package jobs

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/model"
)

// MessageKind tags a tracker message.
type MessageKind string

const (
	// KindSubmitted carries the result of the batch submission.
	KindSubmitted MessageKind = "submitted"
	// KindUpdated carries one job row update from the broker.
	KindUpdated MessageKind = "updated"
)

// Message is one input of the tracker fold.
type Message struct {
	Kind      MessageKind
	Submitted model.ActionState[[]model.Job]
	Job       model.Job
}

// Snapshot is an immutable view of the tracked jobs. Pending is true while
// the batch submission is in flight.
type Snapshot struct {
	EntityID string      `json:"entity_id"`
	Jobs     []model.Job `json:"jobs"`
	Pending  bool        `json:"pending"`
	Message  string      `json:"message,omitempty"`
	Version  uint64      `json:"version"`
}

// Settled reports whether no job is waiting for an update.
func (s Snapshot) Settled() bool {
	if s.Pending {
		return false
	}
	for _, j := range s.Jobs {
		if j.Status == model.JobPending {
			return false
		}
	}
	return true
}

// Fold applies msg to s and returns the next snapshot. s is never modified.
// An update for a job id that is not in s is dropped; the second result
// reports whether the snapshot changed.
func Fold(s Snapshot, msg Message) (Snapshot, bool) {
	switch msg.Kind {
	case KindSubmitted:
		next := Snapshot{EntityID: s.EntityID, Message: msg.Submitted.Message, Version: s.Version + 1}
		if msg.Submitted.Success {
			next.Jobs = append([]model.Job(nil), msg.Submitted.Data...)
		} else {
			next.Jobs = append([]model.Job(nil), s.Jobs...)
		}
		return next, true

	case KindUpdated:
		idx := -1
		for i, j := range s.Jobs {
			if j.ID == msg.Job.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return s, false
		}
		jobs := append([]model.Job(nil), s.Jobs...)
		jobs[idx] = merge(jobs[idx], msg.Job)
		return Snapshot{
			EntityID: s.EntityID,
			Jobs:     jobs,
			Pending:  s.Pending,
			Message:  s.Message,
			Version:  s.Version + 1,
		}, true
	}
	return s, false
}

// merge overlays the non-empty fields of update on job.
func merge(job, update model.Job) model.Job {
	if update.Name != "" {
		job.Name = update.Name
	}
	if update.URL != "" {
		job.URL = update.URL
	}
	if update.Status != "" {
		job.Status = update.Status
	}
	if !update.UpdatedAt.IsZero() {
		job.UpdatedAt = update.UpdatedAt
	}
	return job
}

// BatchSubmitter submits a batch of job specs. *Submitter satisfies it.
type BatchSubmitter interface {
	Submit(ctx context.Context, et model.EntityType, entityID string, specs []model.JobSpec) model.ActionState[[]model.Job]
}

// Tracker submits the jobs of one entity kind for a row and follows their
// status. A single goroutine owns the broker subscription and folds its
// messages into snapshots.
type Tracker struct {
	entity    model.EntityType
	specs     []model.JobSpec
	submitter BatchSubmitter
	broker    Broker
	logger    *zap.Logger

	// runMu serializes Start and Close.
	runMu sync.Mutex

	mu       sync.Mutex
	snap     Snapshot
	watchers map[chan Snapshot]struct{}
	stop     chan struct{}
	done     chan struct{}
}

// NewTracker creates a tracker for the given entity kind and job specs.
func NewTracker(et model.EntityType, specs []model.JobSpec, submitter BatchSubmitter, broker Broker, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		entity:    et,
		specs:     append([]model.JobSpec(nil), specs...),
		submitter: submitter,
		broker:    broker,
		logger:    logger,
		watchers:  make(map[chan Snapshot]struct{}),
	}
}

// Specs returns the job specs the tracker submits.
func (t *Tracker) Specs() []model.JobSpec {
	return append([]model.JobSpec(nil), t.specs...)
}

// Start tears down any previous run, subscribes to the updates of entityID
// and submits the jobs. An empty entityID is a no-op.
func (t *Tracker) Start(ctx context.Context, entityID string) error {
	if entityID == "" {
		return nil
	}
	t.runMu.Lock()
	defer t.runMu.Unlock()
	t.closeRun()

	sub, err := t.broker.Subscribe(ctx, t.entity, entityID)
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	msgs := make(chan Message, 1)

	t.mu.Lock()
	t.stop, t.done = stop, done
	t.publishLocked(Snapshot{EntityID: entityID, Pending: true, Version: t.snap.Version + 1})
	initial := t.snap
	t.mu.Unlock()

	// The submission outlives a cancelled request; its result is discarded
	// once the tracker stops.
	submitCtx := context.WithoutCancel(ctx)
	go func() {
		state := t.submitter.Submit(submitCtx, t.entity, entityID, t.specs)
		select {
		case msgs <- Message{Kind: KindSubmitted, Submitted: state}:
		case <-stop:
		}
	}()

	go t.loop(initial, sub, msgs, stop, done)
	return nil
}

func (t *Tracker) loop(snap Snapshot, sub Subscription, msgs <-chan Message, stop, done chan struct{}) {
	defer close(done)
	defer func() { _ = sub.Close() }()

	updates := sub.Updates()
	for {
		var msg Message
		select {
		case <-stop:
			return
		case m := <-msgs:
			msg = m
		case job, ok := <-updates:
			if !ok {
				return
			}
			msg = Message{Kind: KindUpdated, Job: job}
		}

		if msg.Kind == KindSubmitted && !msg.Submitted.Success {
			t.logger.Warn("job submission failed",
				zap.String("entity", string(t.entity)),
				zap.String("entity_id", snap.EntityID),
				zap.String("message", msg.Submitted.Message),
			)
		}
		next, changed := Fold(snap, msg)
		if !changed {
			t.logger.Debug("job update for unknown id dropped",
				zap.String("entity", string(t.entity)),
				zap.String("job_id", msg.Job.ID),
			)
			continue
		}
		snap = next

		t.mu.Lock()
		select {
		case <-stop:
			t.mu.Unlock()
			return
		default:
		}
		t.publishLocked(snap)
		t.mu.Unlock()
	}
}

// Snapshot returns the latest snapshot.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Await blocks until the batch submission of the current run has finished
// and returns the snapshot holding its result. A tracker that was never
// started returns its current snapshot at once.
func (t *Tracker) Await(ctx context.Context) (Snapshot, error) {
	ch, cancel := t.Watch()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return t.Snapshot(), ctx.Err()
		case s := <-ch:
			if !s.Pending {
				return s, nil
			}
		}
	}
}

// Watch returns a channel that receives the latest snapshot whenever it
// changes, starting with the current one. Slow readers only see the newest
// snapshot. The returned function stops the watch.
func (t *Tracker) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	t.mu.Lock()
	t.watchers[ch] = struct{}{}
	ch <- t.snap
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.watchers, ch)
			t.mu.Unlock()
		})
	}
}

// Close stops the current run and waits for its subscription to be torn
// down.
func (t *Tracker) Close() {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	t.closeRun()
}

// closeRun must be called with t.runMu held.
func (t *Tracker) closeRun() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// publishLocked must be called with t.mu held.
func (t *Tracker) publishLocked(s Snapshot) {
	t.snap = s
	for ch := range t.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
