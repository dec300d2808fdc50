package observability

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return InitMetrics(reg), reg
}

// recordOne touches every metric once so each family shows up in Gather.
func recordOne(m *Metrics) {
	m.RecordHTTPRequest("GET", "/test", 200, time.Millisecond, 0, 100)
	m.RecordMutation("client", "add", true, time.Millisecond)
	m.RecordFormValidationFailure("client", "add")
	m.RecordDependencyCheck("client", "blocked")
	m.RecordTableFetch("client", "rows", true, time.Millisecond)
	m.RecordSearchEntity("client", "ok")
	m.RecordJobSubmitted("client", "pending")
	m.RecordJobUpdate("done")
	m.AddJobSubscriptions("memory", 1)
	m.RecordWebhook("example.com", 200, time.Millisecond)
	m.SetWebhookBreakerState("example.com", 0)
	m.RecordAuthAttempt("login", true)
	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheMiss()
	m.RecordLookupCacheHit("clients")
	m.RecordLookupCacheMiss("clients")
	m.RecordDefinitionReload("success")
	m.SetDefinitionsLoaded(5)
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	recordOne(m)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}

	for _, want := range []string{
		"dastyar_http_requests_total",
		"dastyar_http_request_duration_seconds",
		"dastyar_http_request_size_bytes",
		"dastyar_http_response_size_bytes",
		"dastyar_entity_mutations_total",
		"dastyar_entity_mutation_duration_seconds",
		"dastyar_form_validation_failures_total",
		"dastyar_dependency_checks_total",
		"dastyar_table_fetches_total",
		"dastyar_table_fetch_duration_seconds",
		"dastyar_search_entity_total",
		"dastyar_jobs_submitted_total",
		"dastyar_job_updates_total",
		"dastyar_job_subscriptions",
		"dastyar_webhook_requests_total",
		"dastyar_webhook_duration_seconds",
		"dastyar_webhook_circuit_breaker_state",
		"dastyar_auth_attempts_total",
		"dastyar_capability_cache_hits_total",
		"dastyar_capability_cache_misses_total",
		"dastyar_lookup_cache_hits_total",
		"dastyar_lookup_cache_misses_total",
		"dastyar_definition_reload_total",
		"dastyar_definitions_loaded",
	} {
		if !slices.Contains(names, want) {
			t.Errorf("metric %q not registered", want)
		}
	}
}

func TestMetrics_recordedValues(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordHTTPRequest("GET", "/api/v1/tables/{entity}", 200, 50*time.Millisecond, 0, 1024)
	m.RecordHTTPRequest("GET", "/api/v1/tables/{entity}", 200, 100*time.Millisecond, 0, 2048)
	m.RecordMutation("pre_order", "edit", true, 150*time.Millisecond)
	m.RecordMutation("pre_order", "edit", false, 50*time.Millisecond)
	m.RecordDependencyCheck("client", "blocked")
	m.RecordDependencyCheck("client", "blocked")
	m.RecordDependencyCheck("client", "deletable")
	m.RecordTableFetch("order", "count", false, time.Millisecond)
	m.RecordSearchEntity("invoice", "timeout")
	m.RecordJobSubmitted("client", "error")
	m.AddJobSubscriptions("redis", 1)
	m.AddJobSubscriptions("redis", 1)
	m.AddJobSubscriptions("redis", -1)
	m.RecordWebhook("example.com", 202, 100*time.Millisecond)
	m.SetWebhookBreakerState("example.com", 2)
	m.RecordAuthAttempt("login", false)
	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheMiss()
	m.RecordLookupCacheMiss("clients")
	m.RecordDefinitionReload("success")
	m.SetDefinitionsLoaded(5)

	tests := []struct {
		name      string
		collector prometheus.Collector
		want      float64
	}{
		{"http requests", m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/tables/{entity}", "200"), 2},
		{"mutation success", m.MutationsTotal.WithLabelValues("pre_order", "edit", "success"), 1},
		{"mutation failure", m.MutationsTotal.WithLabelValues("pre_order", "edit", "failure"), 1},
		{"blocked checks", m.DependencyChecksTotal.WithLabelValues("client", "blocked"), 2},
		{"table fetch failures", m.TableFetchesTotal.WithLabelValues("order", "count", "failure"), 1},
		{"search timeouts", m.SearchEntityTotal.WithLabelValues("invoice", "timeout"), 1},
		{"error jobs", m.JobsSubmittedTotal.WithLabelValues("client", "error"), 1},
		{"subscriptions", m.JobSubscriptions.WithLabelValues("redis"), 1},
		{"webhooks", m.WebhookRequestsTotal.WithLabelValues("example.com", "202"), 1},
		{"breaker open", m.WebhookBreakerState.WithLabelValues("example.com"), 2},
		{"failed logins", m.AuthAttemptsTotal.WithLabelValues("login", "failure"), 1},
		{"capability hits", m.CapabilityCacheHitsTotal, 2},
		{"capability misses", m.CapabilityCacheMissesTotal, 1},
		{"lookup misses", m.LookupCacheMissesTotal.WithLabelValues("clients"), 1},
		{"reloads", m.DefinitionReloadTotal.WithLabelValues("success"), 1},
		{"definitions", m.DefinitionsLoaded, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.collector); got != tt.want {
				t.Errorf("value = %v, want %v", got, tt.want)
			}
		})
	}
	if testutil.CollectAndCount(m.TableFetchDuration) == 0 {
		t.Error("table fetch histogram has no observations")
	}
}

func TestNilMetrics_noop(t *testing.T) {
	var m *Metrics
	m.RecordMutation("client", "add", true, time.Millisecond)
	m.RecordDependencyCheck("client", "failed")
	m.RecordSearchEntity("client", "error")
	m.RecordWebhook("h", 500, time.Millisecond)
	m.AddJobSubscriptions("memory", 1)
}

func TestMetricsMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		routed  bool
		method  string
		pattern string
		path    string
		status  int
		label   string
	}{
		{"route pattern", true, http.MethodGet, "/api/v1/tables/{entity}", "/api/v1/tables/client", http.StatusOK, "/api/v1/tables/{entity}"},
		{"client error", true, http.MethodPost, "/api/v1/entities/{entity}", "/api/v1/entities/client", http.StatusBadRequest, "/api/v1/entities/{entity}"},
		{"unrouted falls back to path", false, http.MethodGet, "", "/raw/path", http.StatusOK, "/raw/path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestMetrics(t)
			inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("body"))
			})

			var h http.Handler = m.MetricsMiddleware(inner)
			if tt.routed {
				r := chi.NewRouter()
				r.Use(m.MetricsMiddleware)
				r.Method(tt.method, tt.pattern, inner)
				h = r
			}
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

			if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(tt.method, tt.label, strconv.Itoa(tt.status))); got != 1 {
				t.Errorf("%d requests on %s = %v, want 1", tt.status, tt.label, got)
			}
			if testutil.CollectAndCount(m.HTTPResponseSizeBytes) == 0 {
				t.Error("response size not observed")
			}
		})
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_") {
		t.Error("runtime metrics missing")
	}
}

func TestHistogramBuckets_ascending(t *testing.T) {
	for name, buckets := range map[string][]float64{
		"http":    httpDurationBuckets,
		"backend": backendDurationBuckets,
		"body":    bodySizeBuckets,
	} {
		if !slices.IsSorted(buckets) || len(slices.Compact(slices.Clone(buckets))) != len(buckets) {
			t.Errorf("%s buckets not strictly ascending: %v", name, buckets)
		}
	}
}
