package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/dastyar/internal/config"
)

// memoryTracer installs an always-sampling provider that exports into memory.
func memoryTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter
}

func onlySpan(t *testing.T, exporter *tracetest.InMemoryExporter) tracetest.SpanStub {
	t.Helper()
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	return spans[0]
}

func TestInitTracing(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.TracingConfig
		wantErr bool
	}{
		{"disabled", config.TracingConfig{}, false},
		{"stdout", config.TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 1}, false},
		{"unknown exporter", config.TracingConfig{Enabled: true, Exporter: "zipkin"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := InitTracing(context.Background(), tt.cfg, "dastyar", "test")
			if tt.wantErr {
				if err == nil {
					t.Fatal("InitTracing() succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("InitTracing() error = %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("shutdown() error = %v", err)
			}
		})
	}
}

func TestStartSpan_nestsUnderParent(t *testing.T) {
	exporter := memoryTracer(t)

	ctx, del := StartSpan(context.Background(), "entity.delete",
		AttrEntity.String("pre_order"),
		AttrEntityID.String("42"),
	)
	if trace.SpanFromContext(ctx) != del {
		t.Fatal("context does not carry the new span")
	}
	_, check := StartSpan(ctx, "dependency.check")
	check.End()
	del.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("exported %d spans, want 2", len(spans))
	}
	child, parent := spans[0], spans[1]
	if child.Parent.SpanID() != parent.SpanContext.SpanID() {
		t.Error("dependency.check is not a child of entity.delete")
	}
	if child.SpanContext.TraceID() != parent.SpanContext.TraceID() {
		t.Error("spans belong to different traces")
	}
	attrs := spanAttrMap(parent)
	if attrs["dastyar.entity"] != "pre_order" || attrs["dastyar.entity_id"] != "42" {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestEndSpanWithError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode codes.Code
	}{
		{"failure", errors.New("connection refused"), codes.Error},
		{"success", nil, codes.Unset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter := memoryTracer(t)
			_, span := StartSpan(context.Background(), "store.get")
			EndSpanWithError(span, tt.err)

			s := onlySpan(t, exporter)
			if s.Status.Code != tt.wantCode {
				t.Errorf("status = %v, want %v", s.Status.Code, tt.wantCode)
			}
			if tt.err != nil && (s.Status.Description != tt.err.Error() || len(s.Events) == 0) {
				t.Errorf("error not recorded: %+v", s.Status)
			}
		})
	}
}

func TestContextIDs(t *testing.T) {
	if id := TraceIDFromContext(context.Background()); id != "" {
		t.Errorf("TraceIDFromContext() without span = %q", id)
	}

	memoryTracer(t)
	ctx, span := StartSpan(context.Background(), "ids")
	defer span.End()

	if got, want := TraceIDFromContext(ctx), span.SpanContext().TraceID().String(); got != want {
		t.Errorf("TraceIDFromContext() = %q, want %q", got, want)
	}
	if got, want := SpanIDFromContext(ctx), span.SpanContext().SpanID().String(); got != want {
		t.Errorf("SpanIDFromContext() = %q, want %q", got, want)
	}

	headers := http.Header{}
	InjectTraceHeaders(ctx, headers)
	if !strings.Contains(headers.Get("Traceparent"), span.SpanContext().TraceID().String()) {
		t.Errorf("Traceparent = %q", headers.Get("Traceparent"))
	}
}

func TestTracingMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		status     int
		wantName   string
		wantStatus string
		wantErr    bool
	}{
		{"ok", http.MethodGet, "/api/v1/tables/client", http.StatusOK, "GET /api/v1/tables/client", "200", false},
		{"created", http.MethodPost, "/api/v1/entities/order/7/jobs", http.StatusCreated, "POST /api/v1/entities/order/7/jobs", "201", false},
		{"server error", http.MethodPost, "/api/v1/entities/client", http.StatusInternalServerError, "POST /api/v1/entities/client", "500", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter := memoryTracer(t)
			handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			s := onlySpan(t, exporter)
			if s.Name != tt.wantName {
				t.Errorf("name = %q, want %q", s.Name, tt.wantName)
			}
			if s.SpanKind != trace.SpanKindServer {
				t.Errorf("kind = %v, want server", s.SpanKind)
			}
			attrs := spanAttrMap(s)
			if attrs["http.response.status_code"] != tt.wantStatus {
				t.Errorf("status attribute = %q, want %s", attrs["http.response.status_code"], tt.wantStatus)
			}
			if attrs["url.path"] != tt.path || attrs["http.request.method"] != tt.method {
				t.Errorf("attributes = %v", attrs)
			}
			if (s.Status.Code == codes.Error) != tt.wantErr {
				t.Errorf("span status = %v", s.Status.Code)
			}
			if rec.Header().Get("Traceparent") == "" {
				t.Error("response carries no Traceparent")
			}
		})
	}
}

func TestTracingMiddleware_namesSpanAfterRoute(t *testing.T) {
	exporter := memoryTracer(t)

	r := chi.NewRouter()
	r.Use(TracingMiddleware)
	r.Get("/entities/{entity}/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/entities/client/42", nil))

	s := onlySpan(t, exporter)
	if want := "GET /entities/{entity}/{id}"; s.Name != want {
		t.Errorf("name = %q, want %q", s.Name, want)
	}
	if got := spanAttrMap(s)["http.route"]; got != "/entities/{entity}/{id}" {
		t.Errorf("http.route = %q", got)
	}
}

func TestTracingMiddleware_continuesTraceparent(t *testing.T) {
	exporter := memoryTracer(t)
	const (
		traceID = "0af7651916cd43dd8448eb211c80319c"
		spanID  = "b7ad6b7169203331"
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/navigation", nil)
	req.Header.Set("Traceparent", "00-"+traceID+"-"+spanID+"-01")
	TracingMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), req)

	s := onlySpan(t, exporter)
	if s.SpanContext.TraceID().String() != traceID {
		t.Errorf("trace id = %s, want %s", s.SpanContext.TraceID(), traceID)
	}
	if s.Parent.SpanID().String() != spanID {
		t.Errorf("parent = %s, want %s", s.Parent.SpanID(), spanID)
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TracingConfig
		want string
	}{
		{"default rate", config.TracingConfig{}, "TraceIDRatioBased{0.1}"},
		{"always", config.TracingConfig{SamplingRate: 1.0}, "AlwaysOnSampler"},
		{"clamped", config.TracingConfig{SamplingRate: 2.0}, "AlwaysOnSampler"},
		{"ratio", config.TracingConfig{SamplingRate: 0.5}, "TraceIDRatioBased{0.5}"},
		{"force errors records all", config.TracingConfig{SamplingRate: 0.5, ForceSampleErrors: true}, "AlwaysOnSampler"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := newSampler(tt.cfg).Description()
			if !strings.Contains(desc, "ParentBased") || !strings.Contains(desc, tt.want) {
				t.Errorf("Description() = %q, want ParentBased with %s", desc, tt.want)
			}
		})
	}
}

func TestErrorSampler_forwardsFailedSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	processor := &errorSampler{
		SpanProcessor: sdktrace.NewSimpleSpanProcessor(exporter),
		ratio:         sdktrace.NeverSample(),
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	tracer := tp.Tracer("test")

	_, sampled := tracer.Start(context.Background(), "table.rows")
	sampled.End()
	_, failed := tracer.Start(context.Background(), "entity.delete")
	EndSpanWithError(failed, errors.New("connection refused"))

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "entity.delete" {
		t.Fatalf("exported = %v, want only the failed span", spans)
	}
}

func spanAttrMap(s tracetest.SpanStub) map[string]string {
	m := make(map[string]string, len(s.Attributes))
	for _, a := range s.Attributes {
		m[string(a.Key)] = a.Value.Emit()
	}
	return m
}
