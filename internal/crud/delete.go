package crud

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/dependency"
	"github.com/pitabwire/dastyar/internal/jobs"
	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/model"
)

// MsgChecking is shown while the dependency check runs.
const MsgChecking = "در حال بررسی وابستگی‌ها..."

// BlockedMessage is shown when a row has dependants and its dependency
// carries no message of its own.
func BlockedMessage(displayName string) string {
	return fmt.Sprintf("این %s دارای رکوردهای وابسته است و قابل حذف نیست. ابتدا رکوردهای مرتبط را حذف کنید.", displayName)
}

// Title returns the dialog title of op on an entity.
func Title(op model.Operation, displayName string) string {
	switch op {
	case model.OpView:
		return fmt.Sprintf("مشاهده جزئیات %s", displayName)
	case model.OpEdit:
		return fmt.Sprintf("ویرایش %s", displayName)
	case model.OpDelete:
		return fmt.Sprintf("حذف %s", displayName)
	case model.OpAdd:
		return fmt.Sprintf("افزودن %s", displayName)
	}
	return displayName
}

// DependencyChecker runs the dependency check of a row.
type DependencyChecker interface {
	CheckEntityDependencies(ctx context.Context, et model.EntityType, id string) dependency.Outcome
}

// DeleteMutation deletes a row. Data reports whether the row was deleted.
type DeleteMutation func(ctx context.Context, id string) model.ActionState[bool]

// DeleteConfig wires a DeleteSession.
type DeleteConfig struct {
	Checker  DependencyChecker
	Mutation DeleteMutation
	// Jobs, when set, is started for the deleted id after a successful
	// delete.
	Jobs      *jobs.Tracker
	OnSuccess func(id string)
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// DeleteSession is the delete dialog of one row. Opening it starts the
// dependency check; the delete can only be confirmed once the check found
// the row deletable.
type DeleteSession struct {
	def       model.EntityDefinition
	checker   DependencyChecker
	mutation  DeleteMutation
	tracker   *jobs.Tracker
	onSuccess func(id string)
	logger    *zap.Logger
	metrics   *observability.Metrics

	mu      sync.Mutex
	gen     uint64
	phase   Phase
	id      string
	outcome dependency.Outcome
	checked chan struct{}
	result  *model.ActionState[bool]
}

// NewDeleteSession creates a closed delete session for def.
func NewDeleteSession(def model.EntityDefinition, cfg DeleteConfig) *DeleteSession {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeleteSession{
		def:       def,
		checker:   cfg.Checker,
		mutation:  cfg.Mutation,
		tracker:   cfg.Jobs,
		onSuccess: cfg.OnSuccess,
		logger:    logger.With(zap.String("entity", string(def.Entity)), zap.String("operation", string(model.OpDelete))),
		metrics:   cfg.Metrics,
		phase:     PhaseClosed,
	}
}

// Open shows the dialog for row id and starts its dependency check in the
// background.
func (d *DeleteSession) Open(ctx context.Context, id string) error {
	d.mu.Lock()
	if d.phase == PhaseSubmitting {
		d.mu.Unlock()
		return ErrInFlight
	}
	d.gen++
	gen := d.gen
	checked := make(chan struct{})
	d.phase = PhaseValidating
	d.id = id
	d.outcome = nil
	d.checked = checked
	d.result = nil
	d.mu.Unlock()

	go func() {
		out := d.checker.CheckEntityDependencies(ctx, d.def.Entity, id)
		d.mu.Lock()
		if d.gen == gen {
			d.outcome = out
		}
		d.mu.Unlock()
		close(checked)
	}()
	return nil
}

// Wait blocks until the dependency check of the current opening finished
// and returns its outcome.
func (d *DeleteSession) Wait(ctx context.Context) (dependency.Outcome, error) {
	d.mu.Lock()
	checked := d.checked
	d.mu.Unlock()
	if checked == nil {
		return nil, ErrClosed
	}

	select {
	case <-checked:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.outcome == nil {
		return nil, ErrClosed
	}
	return d.outcome, nil
}

// Outcome returns the dependency check outcome, or nil while it runs.
func (d *DeleteSession) Outcome() dependency.Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outcome
}

// CanConfirm reports whether the delete may be confirmed: the check
// finished, found no dependants and no submission is running.
func (d *DeleteSession) CanConfirm() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.canConfirmLocked()
}

func (d *DeleteSession) canConfirmLocked() bool {
	if d.phase != PhaseValidating && d.phase != PhaseResultShown {
		return false
	}
	if d.result != nil && d.result.Success && d.result.Data {
		return false
	}
	_, ok := d.outcome.(dependency.Deletable)
	return ok
}

// Banner returns the message explaining why the delete cannot be
// confirmed, or "" when it can.
func (d *DeleteSession) Banner() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.phase == PhaseClosed {
		return ""
	}
	switch o := d.outcome.(type) {
	case nil:
		return MsgChecking
	case dependency.Blocked:
		if o.Reason == "" {
			return BlockedMessage(d.def.DisplayName)
		}
		return o.Reason
	case dependency.CheckFailed:
		return dependency.MsgCheckFailed
	}
	return ""
}

// Confirm deletes the row once. It is refused while the check runs, when
// it blocked or failed, and while a delete is in flight.
func (d *DeleteSession) Confirm(ctx context.Context) (model.ActionState[bool], error) {
	d.mu.Lock()
	switch {
	case d.phase == PhaseClosed:
		d.mu.Unlock()
		return model.ActionState[bool]{}, ErrClosed
	case d.phase == PhaseSubmitting:
		d.mu.Unlock()
		return model.ActionState[bool]{}, ErrInFlight
	case !d.canConfirmLocked():
		d.mu.Unlock()
		return model.ActionState[bool]{}, ErrNotConfirmable
	}
	d.phase = PhaseSubmitting
	gen, id := d.gen, d.id
	d.mu.Unlock()

	logger := observability.RequestLogger(ctx, d.logger)

	start := time.Now()
	state := d.mutation(ctx, id)
	success := state.Success && state.Data
	d.metrics.RecordMutation(string(d.def.Entity), string(model.OpDelete), success, time.Since(start))

	d.mu.Lock()
	if d.gen != gen {
		d.mu.Unlock()
		logger.Debug("delete result discarded", zap.String("id", id))
		return state, nil
	}
	d.phase = PhaseResultShown
	d.result = &state
	d.mu.Unlock()

	if !success {
		logger.Info("delete failed", zap.String("id", id), zap.String("message", state.Message))
		return state, nil
	}

	if d.tracker != nil && len(d.tracker.Specs()) > 0 {
		if err := d.tracker.Start(ctx, id); err != nil {
			logger.Warn("starting jobs failed", zap.String("id", id), zap.Error(err))
		}
	}
	if d.onSuccess != nil {
		d.onSuccess(id)
	}
	return state, nil
}

// Result returns the result of the last confirmation, if any.
func (d *DeleteSession) Result() (model.ActionState[bool], bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.result == nil {
		return model.ActionState[bool]{}, false
	}
	return *d.result, true
}

// Phase returns the current phase.
func (d *DeleteSession) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

// Jobs returns the live job snapshot of the last successful delete.
func (d *DeleteSession) Jobs() jobs.Snapshot {
	if d.tracker == nil {
		return jobs.Snapshot{}
	}
	return d.tracker.Snapshot()
}

// AwaitJobs waits until the jobs started by the delete are stored and
// returns their snapshot.
func (d *DeleteSession) AwaitJobs(ctx context.Context) (jobs.Snapshot, error) {
	if d.tracker == nil {
		return jobs.Snapshot{}, nil
	}
	return d.tracker.Await(ctx)
}

// Close ends the session and tears down its job subscription.
func (d *DeleteSession) Close() {
	d.mu.Lock()
	d.gen++
	d.phase = PhaseClosed
	d.outcome = nil
	d.checked = nil
	d.mu.Unlock()

	if d.tracker != nil {
		d.tracker.Close()
	}
}
