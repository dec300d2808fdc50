package jobs

import (
	"context"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

// User-facing submission messages.
const (
	MsgNoJobs    = "هیچ اکشنی پیدا نشد."
	MsgSubmitted = "همه یا بخشی از اکشن‌ها با موفقیت ثبت شدند."
)

// placeholderBase is the id base of jobs whose insert failed. The first
// failure of a batch gets 1001.
const placeholderBase = 1000

// maxConcurrentInserts bounds the inserts of one batch.
const maxConcurrentInserts = 8

// Enqueuer hands a stored job to the webhook dispatcher.
type Enqueuer interface {
	Enqueue(job model.Job)
}

// Submitter inserts job rows for an entity row and queues their webhooks.
type Submitter struct {
	store    store.Jobs
	enqueuer Enqueuer
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewSubmitter creates a submitter. enqueuer may be nil, in which case jobs
// are stored and left for an external worker.
func NewSubmitter(s store.Jobs, enqueuer Enqueuer, logger *zap.Logger, metrics *observability.Metrics) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{store: s, enqueuer: enqueuer, logger: logger, metrics: metrics}
}

// Submit inserts one pending job per spec. The result has one job per spec
// in input order; a spec whose insert failed is represented by a placeholder
// job with status error.
func (s *Submitter) Submit(ctx context.Context, et model.EntityType, entityID string, specs []model.JobSpec) model.ActionState[[]model.Job] {
	if len(specs) == 0 {
		return model.Failed[[]model.Job](MsgNoJobs)
	}

	ctx, span := observability.StartSpan(ctx, "jobs.submit")
	defer span.End()

	logger := observability.RequestLogger(ctx, s.logger)

	jobs := make([]model.Job, len(specs))
	failed := make([]bool, len(specs))

	var g errgroup.Group
	g.SetLimit(maxConcurrentInserts)
	for i, spec := range specs {
		g.Go(func() error {
			job, err := s.store.InsertJob(ctx, model.NewJob{
				Entity:   et,
				EntityID: entityID,
				Name:     spec.Name,
				URL:      spec.URL,
				Status:   model.JobPending,
			})
			if err != nil {
				logger.Warn("job insert failed",
					zap.String("entity", string(et)),
					zap.String("entity_id", entityID),
					zap.String("job", spec.Name),
					zap.Error(err),
				)
				failed[i] = true
				return nil
			}
			jobs[i] = job
			return nil
		})
	}
	_ = g.Wait()

	next := placeholderBase
	for i, spec := range specs {
		if failed[i] {
			next++
			jobs[i] = model.Job{
				ID:       strconv.Itoa(next),
				Name:     spec.Name,
				URL:      spec.URL,
				Status:   model.JobError,
				Entity:   et,
				EntityID: entityID,
			}
		}
		s.metrics.RecordJobSubmitted(string(et), string(jobs[i].Status))
		if !failed[i] && s.enqueuer != nil {
			s.enqueuer.Enqueue(jobs[i])
		}
	}

	return model.Succeeded(MsgSubmitted, jobs)
}

// Follower is a BatchSubmitter that submits nothing. It answers with the
// jobs already stored for the row, so a Tracker built on it only follows
// their status.
type Follower struct {
	store store.Jobs
}

// NewFollower creates a follower over s.
func NewFollower(s store.Jobs) *Follower {
	return &Follower{store: s}
}

// Submit lists the stored jobs of the row. When specs is not empty only the
// jobs named by a spec are kept.
func (f *Follower) Submit(ctx context.Context, et model.EntityType, entityID string, specs []model.JobSpec) model.ActionState[[]model.Job] {
	jobs, err := f.store.ListJobs(ctx, et, entityID)
	if err != nil {
		return model.Failed[[]model.Job](MsgNoJobs)
	}
	if len(specs) > 0 {
		names := make(map[string]bool, len(specs))
		for _, s := range specs {
			names[s.Name] = true
		}
		kept := jobs[:0]
		for _, j := range jobs {
			if names[j.Name] {
				kept = append(kept, j)
			}
		}
		jobs = kept
	}
	if len(jobs) == 0 {
		return model.Succeeded(MsgNoJobs, []model.Job{})
	}
	return model.Succeeded("", jobs)
}
