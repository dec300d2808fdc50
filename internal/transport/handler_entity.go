package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/crud"
	"github.com/pitabwire/dastyar/internal/dependency"
	"github.com/pitabwire/dastyar/internal/jobs"
	"github.com/pitabwire/dastyar/internal/lookup"
	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/model"
)

// IdempotencyKeyHeader carries the client-chosen key of a mutation.
const IdempotencyKeyHeader = "X-Idempotency-Key"

// mutationResponse is an action result together with the jobs it started.
type mutationResponse[T any] struct {
	model.ActionState[T]
	Jobs []model.Job `json:"jobs,omitempty"`
}

// entityFor resolves the {entity} URL parameter and checks that the
// operator may run op on it. It writes the error response itself.
func entityFor(w http.ResponseWriter, r *http.Request, deps Dependencies, op model.Operation) (model.EntityDefinition, bool) {
	name := chi.URLParam(r, "entity")
	def, ok := deps.Registry.Get(name)
	if !ok {
		WriteRequestError(w, r, model.NewNotFoundError(fmt.Sprintf("موجودیت %q یافت نشد.", name)))
		return model.EntityDefinition{}, false
	}
	if !CapabilitiesFrom(r.Context()).Has(model.Capability(def.Entity, op)) {
		WriteRequestError(w, r, model.NewForbiddenError(MsgForbidden))
		return model.EntityDefinition{}, false
	}
	return def, true
}

// handleSubmit runs the add or edit form of an entity once: the body is
// validated, the mutation runs behind the idempotency key and the jobs of
// op start for the affected row.
func handleSubmit(deps Dependencies, op model.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, ok := entityFor(w, r, deps, op)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")

		mutation, ok := deps.Actions.Mutation(def.Entity, op, id)
		if !ok || len(def.FieldsFor(op)) == 0 {
			WriteRequestError(w, r, model.NewNotFoundError(fmt.Sprintf("این عملیات برای %s تعریف نشده است.", def.DisplayName)))
			return
		}
		form, err := decodeForm(r)
		if err != nil {
			WriteRequestError(w, r, err)
			return
		}

		replayed := false
		if key := r.Header.Get(IdempotencyKeyHeader); key != "" && deps.Idempotency != nil {
			mutation = crud.WithIdempotency(deps.Idempotency,
				crud.FormatIdempotencyKey(def.Entity, op, key),
				deps.Config.Idempotency.DefaultTTL,
				mutation,
				func() { replayed = true })
		}

		session := crud.NewSession(def, op, crud.SessionConfig{
			Mutation:  mutation,
			Jobs:      jobTracker(deps, def, op),
			Replayed:  func() bool { return replayed },
			OnSuccess: invalidateLookups(deps, def.Entity),
			Logger:    deps.Logger,
			Metrics:   deps.Metrics,
		})
		defer session.Close()
		if err := session.Open(form); err != nil {
			WriteRequestError(w, r, model.NewConflictError(err.Error()))
			return
		}

		state, err := session.Submit(r.Context())
		if errors.Is(err, crud.ErrInvalid) {
			WriteRequestError(w, r, model.NewValidationError(fieldErrors(session.Errors())))
			return
		}
		if err != nil {
			WriteRequestError(w, r, model.NewConflictError(err.Error()))
			return
		}

		resp := mutationResponse[string]{ActionState: state}
		if state.Success {
			resp.Jobs = awaitJobs(r, deps, session.AwaitJobs)
		}
		writeMutation(w, resp)
	}
}

// invalidateLookups drops cached options built from et after a mutation.
func invalidateLookups(deps Dependencies, et model.EntityType) func(string) {
	return func(string) {
		if et == model.EntityClient && deps.Lookups != nil {
			deps.Lookups.Invalidate(lookup.SourceClients)
		}
	}
}

// jobTracker follows the jobs configured for op on def, nil when none are.
func jobTracker(deps Dependencies, def model.EntityDefinition, op model.Operation) *jobs.Tracker {
	if deps.Submitter == nil || deps.JobConfig == nil || deps.Broker == nil {
		return nil
	}
	specs := deps.JobConfig.For(string(def.Entity), op)
	if len(specs) == 0 {
		return nil
	}
	return jobs.NewTracker(def.Entity, specs, deps.Submitter, deps.Broker, deps.Logger)
}

// awaitJobs waits for the job batch a session started. A batch that is not
// stored in time is logged and reported as no jobs.
func awaitJobs(r *http.Request, deps Dependencies, await func(context.Context) (jobs.Snapshot, error)) []model.Job {
	snap, err := await(r.Context())
	if err != nil {
		observability.RequestLogger(r.Context(), deps.Logger).Warn("waiting for jobs failed", zap.Error(err))
		return nil
	}
	return snap.Jobs
}

func handleView(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		desc, err := deps.Forms.GetView(r.Context(), CapabilitiesFrom(r.Context()),
			chi.URLParam(r, "entity"), chi.URLParam(r, "id"))
		if err != nil {
			writeLoadError(w, r, deps, err)
			return
		}
		WriteJSON(w, http.StatusOK, desc)
	}
}

// deleteView is the delete dialog: the row summary and whether it may be
// deleted.
type deleteView struct {
	model.ViewDescriptor
	Check model.ActionState[bool] `json:"check"`
}

func handleDependencies(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, ok := entityFor(w, r, deps, model.OpDelete)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")

		desc, err := deps.Forms.GetDeleteView(r.Context(), CapabilitiesFrom(r.Context()), string(def.Entity), id)
		if err != nil {
			writeLoadError(w, r, deps, err)
			return
		}
		WriteJSON(w, http.StatusOK, deleteView{
			ViewDescriptor: desc,
			Check:          deps.Actions.CheckDependencies(r.Context(), def.Entity, id),
		})
	}
}

// handleDelete checks the dependencies of the row and deletes it only when
// nothing references it.
func handleDelete(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, ok := entityFor(w, r, deps, model.OpDelete)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")

		session := crud.NewDeleteSession(def, crud.DeleteConfig{
			Checker:   deps.Checker,
			Mutation:  deps.Actions.DeleteMutation(def.Entity),
			Jobs:      jobTracker(deps, def, model.OpDelete),
			OnSuccess: invalidateLookups(deps, def.Entity),
			Logger:    deps.Logger,
			Metrics:   deps.Metrics,
		})
		defer session.Close()
		if err := session.Open(r.Context(), id); err != nil {
			WriteRequestError(w, r, model.NewConflictError(err.Error()))
			return
		}

		outcome, err := session.Wait(r.Context())
		if err != nil {
			WriteRequestError(w, r, model.NewBackendUnavailableError())
			return
		}
		if _, ok := outcome.(dependency.Deletable); !ok {
			WriteState(w, model.Failed[bool](session.Banner()))
			return
		}

		state, err := session.Confirm(r.Context())
		if err != nil {
			WriteState(w, model.Failed[bool](session.Banner()))
			return
		}
		resp := mutationResponse[bool]{ActionState: state}
		if state.Success && state.Data {
			resp.Jobs = awaitJobs(r, deps, session.AwaitJobs)
		}
		writeMutation(w, resp)
	}
}

// writeMutation answers with the action result and its jobs, 422 when the
// action failed.
func writeMutation[T any](w http.ResponseWriter, resp mutationResponse[T]) {
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusUnprocessableEntity
	}
	WriteJSON(w, status, resp)
}

// writeLoadError answers a failed descriptor load. Envelopes pass through;
// anything else is a store failure.
func writeLoadError(w http.ResponseWriter, r *http.Request, deps Dependencies, err error) {
	if env, ok := model.AsEnvelope(err); ok {
		WriteRequestError(w, r, env)
		return
	}
	observability.RequestLogger(r.Context(), deps.Logger).Error("load failed", zap.Error(err))
	WriteRequestError(w, r, model.NewBackendUnavailableError())
}
