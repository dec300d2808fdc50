package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/config"
	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

// StatusUpdater moves a job to a new status and publishes the update.
type StatusUpdater struct {
	store   store.Jobs
	broker  Broker
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewStatusUpdater creates a status updater.
func NewStatusUpdater(s store.Jobs, broker Broker, logger *zap.Logger, metrics *observability.Metrics) *StatusUpdater {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusUpdater{store: s, broker: broker, logger: logger, metrics: metrics}
}

// Update stores the new status of job id and publishes the updated row.
// A publish failure is logged; the stored status stands.
func (u *StatusUpdater) Update(ctx context.Context, id string, status model.JobStatus) (model.Job, error) {
	if !status.Valid() {
		return model.Job{}, fmt.Errorf("jobs: invalid status %q", status)
	}
	job, err := u.store.UpdateJobStatus(ctx, id, status)
	if err != nil {
		return model.Job{}, err
	}
	u.metrics.RecordJobUpdate(string(status))

	if err := u.broker.Publish(ctx, job); err != nil {
		observability.RequestLogger(ctx, u.logger).Warn("job update publish failed",
			zap.String("job_id", id),
			zap.Error(err),
		)
	}
	return job, nil
}

// WebhookPayload is the body POSTed to a job URL.
type WebhookPayload struct {
	JobID       string `json:"job_id"`
	Entity      string `json:"entity"`
	EntityID    string `json:"entity_id"`
	Name        string `json:"name"`
	CallbackURL string `json:"callback_url"`
}

// WebhookSecretHeader carries the shared webhook secret on outbound calls
// and on callbacks.
const WebhookSecretHeader = "X-Webhook-Secret"

// CallbackPath returns the API path through which the workflow engine
// reports the status of job id.
func CallbackPath(id string) string {
	return "/api/v1/jobs/" + url.PathEscape(id) + "/callback"
}

// dispatchQueueSize bounds the jobs waiting for a worker.
const dispatchQueueSize = 256

var errDispatcherStopped = errors.New("dispatcher stopped")

// Dispatcher POSTs submitted jobs to their webhook URLs from a pool of
// workers. Each URL host has its own circuit breaker. A failed call marks
// the job as error.
type Dispatcher struct {
	client    *http.Client
	breakers  *breakers
	updater   *StatusUpdater
	publicURL string
	secret    string
	workers   int
	logger    *zap.Logger
	metrics   *observability.Metrics

	// mu guards closed; Enqueue sends under the read lock so Stop never
	// closes the queue during a send.
	mu     sync.RWMutex
	closed bool
	queue  chan model.Job
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher from the jobs config. publicURL is the
// externally reachable base URL used to build callback URLs.
func NewDispatcher(cfg config.JobsConfig, publicURL string, updater *StatusUpdater, logger *zap.Logger, metrics *observability.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Webhook.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	workers := cfg.Webhook.Workers
	if workers < 1 {
		workers = 4
	}
	cb := cfg.CircuitBreaker
	return &Dispatcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: workers,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breakers: newBreakers(func() *CircuitBreaker {
			return NewCircuitBreaker(cb.FailureThreshold, cb.SuccessThreshold, cb.Timeout)
		}),
		updater:   updater,
		publicURL: strings.TrimRight(publicURL, "/"),
		secret:    cfg.Webhook.Secret,
		workers:   workers,
		logger:    logger,
		metrics:   metrics,
		queue:     make(chan model.Job, dispatchQueueSize),
	}
}

// Start launches the workers. They run until ctx is done or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	for range d.workers {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-d.queue:
					if !ok {
						return
					}
					d.handle(ctx, job)
				}
			}
		}()
	}
}

// Stop closes the queue and waits for the workers to drain it.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Enqueue queues a job for dispatch. A full queue or a stopped dispatcher
// fails the job at once.
func (d *Dispatcher) Enqueue(job model.Job) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.fail(context.Background(), job, errDispatcherStopped)
		return
	}
	select {
	case d.queue <- job:
	default:
		d.logger.Warn("webhook queue full", zap.String("job_id", job.ID))
		d.fail(context.Background(), job, errors.New("queue full"))
	}
}

func (d *Dispatcher) handle(ctx context.Context, job model.Job) {
	if err := d.Dispatch(ctx, job); err != nil {
		d.fail(ctx, job, err)
	}
}

func (d *Dispatcher) fail(ctx context.Context, job model.Job, cause error) {
	d.logger.Warn("job webhook failed",
		zap.String("job_id", job.ID),
		zap.String("url", job.URL),
		zap.Error(cause),
	)
	if _, err := d.updater.Update(ctx, job.ID, model.JobError); err != nil {
		d.logger.Error("job status update failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Dispatch performs one webhook call for job. Any status outside 2xx is an
// error. Only 5xx responses and transport errors count against the host's
// breaker.
func (d *Dispatcher) Dispatch(ctx context.Context, job model.Job) (err error) {
	target, err := url.Parse(job.URL)
	if err != nil || target.Host == "" {
		return fmt.Errorf("invalid webhook url %q", job.URL)
	}
	host := target.Host

	ctx, span := observability.StartSpan(ctx, "jobs.webhook",
		attribute.String("job.id", job.ID),
		attribute.String("webhook.host", host),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	cb := d.breakers.get(host)
	defer func() { d.metrics.SetWebhookBreakerState(host, float64(cb.State())) }()
	if err := cb.Allow(); err != nil {
		return err
	}

	body, err := json.Marshal(WebhookPayload{
		JobID:       job.ID,
		Entity:      string(job.Entity),
		EntityID:    job.EntityID,
		Name:        job.Name,
		CallbackURL: d.publicURL + CallbackPath(job.ID),
	})
	if err != nil {
		return fmt.Errorf("encode webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if d.secret != "" {
		req.Header.Set(WebhookSecretHeader, d.secret)
	}
	observability.InjectTraceHeaders(ctx, req.Header)

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		cb.RecordFailure()
		d.metrics.RecordWebhook(host, 0, time.Since(start))
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	d.metrics.RecordWebhook(host, resp.StatusCode, time.Since(start))

	// 4xx responses are not host failures and leave the breaker alone.
	switch {
	case resp.StatusCode >= 500:
		cb.RecordFailure()
	case resp.StatusCode < 400:
		cb.RecordSuccess()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
