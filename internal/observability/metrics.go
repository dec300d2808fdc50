package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments of the dashboard backend.
// Every recording helper is a no-op on a nil *Metrics, so components can be
// built without instrumentation in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Entity mutation metrics
	MutationsTotal         *prometheus.CounterVec
	MutationDuration       *prometheus.HistogramVec
	FormValidationFailures *prometheus.CounterVec
	DependencyChecksTotal  *prometheus.CounterVec

	// Table metrics
	TableFetchesTotal  *prometheus.CounterVec
	TableFetchDuration *prometheus.HistogramVec
	SearchEntityTotal  *prometheus.CounterVec

	// Job metrics
	JobsSubmittedTotal   *prometheus.CounterVec
	JobUpdatesTotal      *prometheus.CounterVec
	JobSubscriptions     *prometheus.GaugeVec
	WebhookRequestsTotal *prometheus.CounterVec
	WebhookDuration      *prometheus.HistogramVec
	WebhookBreakerState  *prometheus.GaugeVec

	// Auth and cache metrics
	AuthAttemptsTotal          *prometheus.CounterVec
	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter
	LookupCacheHitsTotal       *prometheus.CounterVec
	LookupCacheMissesTotal     *prometheus.CounterVec

	// System metrics
	DefinitionReloadTotal *prometheus.CounterVec
	DefinitionsLoaded     prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dastyar_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dastyar_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dastyar_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dastyar_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Mutations
		MutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dastyar_entity_mutations_total",
			Help: "Total number of entity add, edit and delete operations.",
		}, []string{"entity", "operation", "status"}),
		MutationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dastyar_entity_mutation_duration_seconds",
			Help:    "Entity mutation duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"entity", "operation"}),
		FormValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dastyar_form_validation_failures_total",
			Help: "Total number of submissions blocked by field validation.",
		}, []string{"entity", "operation"}),
		DependencyChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dastyar_dependency_checks_total",
			Help: "Total number of delete dependency checks by outcome.",
		}, []string{"entity", "outcome"}),

		// Tables
		TableFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dastyar_table_fetches_total",
			Help: "Total number of table row and count fetches.",
		}, []string{"entity", "kind", "status"}),
		TableFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dastyar_table_fetch_duration_seconds",
			Help:    "Table fetch duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"entity", "kind"}),
		SearchEntityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dastyar_search_entity_total",
			Help: "Total per-entity global search fetches by outcome.",
		}, []string{"entity", "status"}),

		// Jobs
		JobsSubmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dastyar_jobs_submitted_total",
			Help: "Total number of submitted jobs by initial status.",
		}, []string{"entity", "status"}),
		JobUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dastyar_job_updates_total",
			Help: "Total number of job status updates received.",
		}, []string{"status"}),
		JobSubscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dastyar_job_subscriptions",
			Help: "Number of open job update subscriptions.",
		}, []string{"broker"}),
		WebhookRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dastyar_webhook_requests_total",
			Help: "Total number of job webhook calls.",
		}, []string{"host", "status"}),
		WebhookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dastyar_webhook_duration_seconds",
			Help:    "Job webhook call duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"host"}),
		WebhookBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dastyar_webhook_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"host"}),

		// Auth and cache
		AuthAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dastyar_auth_attempts_total",
			Help: "Total number of login and logout attempts.",
		}, []string{"action", "outcome"}),
		CapabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dastyar_capability_cache_hits_total",
			Help: "Total capability cache hits.",
		}),
		CapabilityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dastyar_capability_cache_misses_total",
			Help: "Total capability cache misses.",
		}),
		LookupCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dastyar_lookup_cache_hits_total",
			Help: "Total lookup cache hits.",
		}, []string{"lookup_id"}),
		LookupCacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dastyar_lookup_cache_misses_total",
			Help: "Total lookup cache misses.",
		}, []string{"lookup_id"}),

		// System
		DefinitionReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dastyar_definition_reload_total",
			Help: "Total number of definition reloads.",
		}, []string{"status"}),
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dastyar_definitions_loaded",
			Help: "Number of loaded entity definitions.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.MutationsTotal,
		m.MutationDuration,
		m.FormValidationFailures,
		m.DependencyChecksTotal,
		m.TableFetchesTotal,
		m.TableFetchDuration,
		m.SearchEntityTotal,
		m.JobsSubmittedTotal,
		m.JobUpdatesTotal,
		m.JobSubscriptions,
		m.WebhookRequestsTotal,
		m.WebhookDuration,
		m.WebhookBreakerState,
		m.AuthAttemptsTotal,
		m.CapabilityCacheHitsTotal,
		m.CapabilityCacheMissesTotal,
		m.LookupCacheHitsTotal,
		m.LookupCacheMissesTotal,
		m.DefinitionReloadTotal,
		m.DefinitionsLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordMutation records an entity add, edit or delete.
func (m *Metrics) RecordMutation(entity, operation string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(entity, operation, outcome(success)).Inc()
	m.MutationDuration.WithLabelValues(entity, operation).Observe(duration.Seconds())
}

// RecordFormValidationFailure records a submission blocked by validation.
func (m *Metrics) RecordFormValidationFailure(entity, operation string) {
	if m == nil {
		return
	}
	m.FormValidationFailures.WithLabelValues(entity, operation).Inc()
}

// RecordDependencyCheck records a dependency check outcome: deletable,
// blocked or failed.
func (m *Metrics) RecordDependencyCheck(entity, result string) {
	if m == nil {
		return
	}
	m.DependencyChecksTotal.WithLabelValues(entity, result).Inc()
}

// RecordTableFetch records a row or count fetch for a table.
func (m *Metrics) RecordTableFetch(entity, kind string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.TableFetchesTotal.WithLabelValues(entity, kind, outcome(success)).Inc()
	m.TableFetchDuration.WithLabelValues(entity, kind).Observe(duration.Seconds())
}

// RecordJobSubmitted records a submitted job and its initial status.
func (m *Metrics) RecordJobSubmitted(entity, status string) {
	if m == nil {
		return
	}
	m.JobsSubmittedTotal.WithLabelValues(entity, status).Inc()
}

// RecordJobUpdate records a job status update.
func (m *Metrics) RecordJobUpdate(status string) {
	if m == nil {
		return
	}
	m.JobUpdatesTotal.WithLabelValues(status).Inc()
}

// AddJobSubscriptions adjusts the open subscription gauge by delta.
func (m *Metrics) AddJobSubscriptions(broker string, delta float64) {
	if m == nil {
		return
	}
	m.JobSubscriptions.WithLabelValues(broker).Add(delta)
}

// RecordWebhook records a job webhook call.
func (m *Metrics) RecordWebhook(host string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.WebhookRequestsTotal.WithLabelValues(host, strconv.Itoa(status)).Inc()
	m.WebhookDuration.WithLabelValues(host).Observe(duration.Seconds())
}

// SetWebhookBreakerState sets the circuit breaker state for a webhook host.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetWebhookBreakerState(host string, state float64) {
	if m == nil {
		return
	}
	m.WebhookBreakerState.WithLabelValues(host).Set(state)
}

// RecordAuthAttempt records a login or logout attempt.
func (m *Metrics) RecordAuthAttempt(action string, success bool) {
	if m == nil {
		return
	}
	m.AuthAttemptsTotal.WithLabelValues(action, outcome(success)).Inc()
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	if m == nil {
		return
	}
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	if m == nil {
		return
	}
	m.CapabilityCacheMissesTotal.Inc()
}

// RecordSearchEntity records the outcome of searching one entity.
func (m *Metrics) RecordSearchEntity(entity, status string) {
	if m == nil {
		return
	}
	m.SearchEntityTotal.WithLabelValues(entity, status).Inc()
}

// RecordLookupCacheHit records a lookup cache hit.
func (m *Metrics) RecordLookupCacheHit(lookupID string) {
	if m == nil {
		return
	}
	m.LookupCacheHitsTotal.WithLabelValues(lookupID).Inc()
}

// RecordLookupCacheMiss records a lookup cache miss.
func (m *Metrics) RecordLookupCacheMiss(lookupID string) {
	if m == nil {
		return
	}
	m.LookupCacheMissesTotal.WithLabelValues(lookupID).Inc()
}

// RecordDefinitionReload records a definition reload.
func (m *Metrics) RecordDefinitionReload(status string) {
	if m == nil {
		return
	}
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// SetDefinitionsLoaded sets the number of loaded definitions.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	if m == nil {
		return
	}
	m.DefinitionsLoaded.Set(count)
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := NewResponseRecorder(w)

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.Status(), duration, reqSize, sw.BytesWritten())
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the metrics of a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	pattern = strings.ReplaceAll(pattern, "/*/", "/")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}
