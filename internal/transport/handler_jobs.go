package transport

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/jobs"
	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

// streamKeepAlive is the interval of comment lines on an idle job stream.
const streamKeepAlive = 15 * time.Second

type submitJobsRequest struct {
	Operation string `json:"operation"`
}

// handleSubmitJobs submits the jobs configured for an operation on one row,
// for a client that retries them by hand.
func handleSubmitJobs(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitJobsRequest
		if err := decodeJSON(r, &req); err != nil {
			WriteRequestError(w, r, err)
			return
		}
		op, err := model.ParseOperation(req.Operation)
		if err != nil {
			WriteRequestError(w, r, model.NewBadRequestError("عملیات نامعتبر است."))
			return
		}
		def, ok := entityFor(w, r, deps, op)
		if !ok {
			return
		}
		specs := deps.JobConfig.For(string(def.Entity), op)
		WriteState(w, deps.Submitter.Submit(r.Context(), def.Entity, chi.URLParam(r, "id"), specs))
	}
}

// handleJobStream streams the job snapshots of one row as server-sent
// events until every job left pending or the client goes away.
func handleJobStream(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, ok := entityFor(w, r, deps, model.OpView)
		if !ok {
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteRequestError(w, r, model.NewInternalError())
			return
		}
		id := chi.URLParam(r, "id")
		logger := observability.RequestLogger(r.Context(), deps.Logger)

		tracker := jobs.NewTracker(def.Entity, nil, jobs.NewFollower(deps.Store), deps.Broker, deps.Logger)
		if err := tracker.Start(r.Context(), id); err != nil {
			logger.Warn("job stream subscribe failed", zap.String("entity_id", id), zap.Error(err))
			WriteRequestError(w, r, model.NewBackendUnavailableError())
			return
		}
		defer tracker.Close()
		snapshots, stop := tracker.Watch()
		defer stop()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		keepAlive := time.NewTicker(streamKeepAlive)
		defer keepAlive.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepAlive.C:
				_, _ = fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case snap := <-snapshots:
				data, err := json.Marshal(snap)
				if err != nil {
					logger.Error("job snapshot encode failed", zap.Error(err))
					return
				}
				_, _ = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
				flusher.Flush()
				if snap.Settled() {
					return
				}
			}
		}
	}
}

type jobCallbackRequest struct {
	Status model.JobStatus `json:"status"`
}

// handleJobCallback records the status a workflow engine reports for a
// job. When a webhook secret is configured the caller must present it.
func handleJobCallback(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret := deps.Config.Jobs.Webhook.Secret; secret != "" {
			got := r.Header.Get(jobs.WebhookSecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				WriteRequestError(w, r, model.NewUnauthorizedError(MsgUnauthorized))
				return
			}
		}

		var req jobCallbackRequest
		if err := decodeJSON(r, &req); err != nil {
			WriteRequestError(w, r, err)
			return
		}
		if !req.Status.Valid() {
			WriteRequestError(w, r, model.NewBadRequestError(fmt.Sprintf("وضعیت %q نامعتبر است.", req.Status)))
			return
		}

		id := chi.URLParam(r, "id")
		job, err := deps.Updater.Update(r.Context(), id, req.Status)
		switch {
		case errors.Is(err, store.ErrNotFound):
			WriteRequestError(w, r, model.NewNotFoundError("اکشن یافت نشد."))
			return
		case err != nil:
			observability.RequestLogger(r.Context(), deps.Logger).Error("job update failed",
				zap.String("job_id", id),
				zap.Error(err),
			)
			WriteRequestError(w, r, model.NewBackendUnavailableError())
			return
		}
		WriteState(w, model.Succeeded("", job))
	}
}
