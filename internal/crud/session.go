// Package crud holds the add, edit and delete form sessions of the
// dashboard. A session validates the operator's input, runs the entity
// mutation once per submission and starts the jobs configured for it.
package crud

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/jobs"
	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/internal/persian"
	"github.com/pitabwire/dastyar/model"
)

// Phase is the state of a form session.
type Phase string

const (
	PhaseClosed      Phase = "closed"
	PhaseValidating  Phase = "validating"
	PhaseSubmitting  Phase = "submitting"
	PhaseResultShown Phase = "result"
)

var (
	// ErrClosed is returned when a closed session is used.
	ErrClosed = errors.New("crud: session is closed")
	// ErrInFlight is returned while a submission is running.
	ErrInFlight = errors.New("crud: submission in flight")
	// ErrInvalid is returned when field errors block a submission.
	ErrInvalid = errors.New("crud: form has errors")
	// ErrNotConfirmable is returned when a delete is confirmed before its
	// dependency check allowed it.
	ErrNotConfirmable = errors.New("crud: delete is not allowed")
)

// Mutation performs an add or edit with the normalized form and returns the
// affected row id.
type Mutation func(ctx context.Context, form model.FormData) model.ActionState[string]

// SessionConfig wires a Session.
type SessionConfig struct {
	Mutation Mutation
	// Jobs, when set, is started for the affected id after a successful
	// submission.
	Jobs *jobs.Tracker
	// Replayed, when set, reports whether the last mutation served a stored
	// result. A replayed submission starts no jobs.
	Replayed func() bool
	// OnSuccess runs after a successful submission with the affected id.
	OnSuccess func(id string)
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// Session is the add or edit form of one entity.
type Session struct {
	def       model.EntityDefinition
	op        model.Operation
	fields    []model.FieldConfig
	mutation  Mutation
	tracker   *jobs.Tracker
	replayed  func() bool
	onSuccess func(id string)
	logger    *zap.Logger
	metrics   *observability.Metrics

	mu      sync.Mutex
	gen     uint64
	phase   Phase
	values  model.FormData
	touched map[string]bool
	errs    map[string]string
	result  *model.ActionState[string]
}

// NewSession creates a closed session for op on def.
func NewSession(def model.EntityDefinition, op model.Operation, cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		def:       def,
		op:        op,
		fields:    def.FieldsFor(op),
		mutation:  cfg.Mutation,
		tracker:   cfg.Jobs,
		replayed:  cfg.Replayed,
		onSuccess: cfg.OnSuccess,
		logger:    logger.With(zap.String("entity", string(def.Entity)), zap.String("operation", string(op))),
		metrics:   cfg.Metrics,
		phase:     PhaseClosed,
	}
}

// Open starts editing with the initial values. Only the session's own state
// is reset.
func (s *Session) Open(initial model.FormData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseSubmitting {
		return ErrInFlight
	}
	s.gen++
	s.phase = PhaseValidating
	s.values = initial.Clone()
	s.touched = make(map[string]bool)
	s.errs = make(map[string]string)
	s.result = nil
	return nil
}

// Change sets one field, marks it touched and re-validates every touched
// field. It returns the current errors by field name.
func (s *Session) Change(name, value string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case PhaseClosed:
		return nil, ErrClosed
	case PhaseSubmitting:
		return nil, ErrInFlight
	case PhaseResultShown:
		s.phase = PhaseValidating
	}

	s.values[name] = value
	s.touched[name] = true
	s.errs = validate(s.def, s.fields, persian.NormalizeForm(s.values), func(n string) bool { return s.touched[n] })
	return maps.Clone(s.errs), nil
}

// Submit normalizes the digits of the form, validates every field and runs
// the mutation once. A failed mutation keeps the session open with the
// returned message; a successful one starts the configured jobs and calls
// OnSuccess. The result of a submission whose session was closed or
// reopened meanwhile is returned but not applied.
func (s *Session) Submit(ctx context.Context) (model.ActionState[string], error) {
	s.mu.Lock()
	switch s.phase {
	case PhaseClosed:
		s.mu.Unlock()
		return model.ActionState[string]{}, ErrClosed
	case PhaseSubmitting:
		s.mu.Unlock()
		return model.ActionState[string]{}, ErrInFlight
	}

	form := persian.NormalizeForm(s.values)
	s.values = form
	for _, f := range s.fields {
		s.touched[f.Name()] = true
	}
	s.errs = validate(s.def, s.fields, form, func(string) bool { return true })
	if len(s.errs) > 0 {
		s.phase = PhaseValidating
		s.mu.Unlock()
		s.metrics.RecordFormValidationFailure(string(s.def.Entity), string(s.op))
		return model.Failed[string](MsgInvalid), ErrInvalid
	}
	s.phase = PhaseSubmitting
	gen := s.gen
	s.mu.Unlock()

	logger := observability.RequestLogger(ctx, s.logger)
	logger.Debug("form submitted", observability.Form("form", form))

	start := time.Now()
	state := s.mutation(ctx, form.Clone())
	s.metrics.RecordMutation(string(s.def.Entity), string(s.op), state.Success, time.Since(start))

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		logger.Debug("submission result discarded")
		return state, nil
	}
	s.phase = PhaseResultShown
	s.result = &state
	s.mu.Unlock()

	if !state.Success {
		logger.Info("form submission failed", zap.String("message", state.Message))
		return state, nil
	}

	if s.replayed != nil && s.replayed() {
		logger.Debug("stored result replayed, no jobs started")
	} else if s.tracker != nil && len(s.tracker.Specs()) > 0 {
		if err := s.tracker.Start(ctx, state.Data); err != nil {
			logger.Warn("starting jobs failed", zap.String("id", state.Data), zap.Error(err))
		}
	}
	if s.onSuccess != nil {
		s.onSuccess(state.Data)
	}
	return state, nil
}

// Close ends the session and tears down its job subscription.
func (s *Session) Close() {
	s.mu.Lock()
	s.gen++
	s.phase = PhaseClosed
	s.mu.Unlock()

	if s.tracker != nil {
		s.tracker.Close()
	}
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Values returns a copy of the current form values.
func (s *Session) Values() model.FormData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.Clone()
}

// Errors returns the current field errors by field name.
func (s *Session) Errors() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.errs)
}

// Result returns the result of the last submission, if any.
func (s *Session) Result() (model.ActionState[string], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return model.ActionState[string]{}, false
	}
	return *s.result, true
}

// Jobs returns the live job snapshot of the last successful submission.
func (s *Session) Jobs() jobs.Snapshot {
	if s.tracker == nil {
		return jobs.Snapshot{}
	}
	return s.tracker.Snapshot()
}

// AwaitJobs waits until the jobs started by the last successful submission
// are stored and returns their snapshot.
func (s *Session) AwaitJobs(ctx context.Context) (jobs.Snapshot, error) {
	if s.tracker == nil {
		return jobs.Snapshot{}, nil
	}
	return s.tracker.Await(ctx)
}

// Render renders the session's fields with their current values and errors.
func (s *Session) Render(ctx context.Context, options OptionSource) ([]model.FieldDescriptor, error) {
	s.mu.Lock()
	values := s.values.Clone()
	errs := maps.Clone(s.errs)
	s.mu.Unlock()

	fields, err := Render(ctx, s.fields, values, options)
	for i := range fields {
		fields[i].Error = errs[fields[i].Field]
	}
	return fields, err
}
