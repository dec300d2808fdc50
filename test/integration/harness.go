// Package integration provides a reusable test harness for end-to-end
// integration testing of the dastyar server. It starts a full HTTP server
// over the in-memory store, the shipped entity definitions and a mock
// workflow engine that receives the job webhooks.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/pitabwire/dastyar/internal/action"
	"github.com/pitabwire/dastyar/internal/capability"
	"github.com/pitabwire/dastyar/internal/config"
	"github.com/pitabwire/dastyar/internal/crud"
	"github.com/pitabwire/dastyar/internal/definition"
	"github.com/pitabwire/dastyar/internal/dependency"
	"github.com/pitabwire/dastyar/internal/jobs"
	"github.com/pitabwire/dastyar/internal/lookup"
	"github.com/pitabwire/dastyar/internal/metadata"
	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/internal/openapi"
	"github.com/pitabwire/dastyar/internal/search"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/internal/transport"
	"github.com/pitabwire/dastyar/model"
)

// WebhookSecret is the shared secret between the server and the mock
// workflow engine.
const WebhookSecret = "integration-secret"

// jobURLPrefix is the job URL host used by the shipped definitions. The
// harness points it at the mock workflow engine.
const jobURLPrefix = "https://example.com"

// TestHarness encapsulates a fully wired server for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Internal components exposed for advanced test scenarios.
	Store    *store.MemoryStore
	Registry *definition.Registry
	Actions  *action.Service
	Broker   *jobs.MemoryBroker
	Updater  *jobs.StatusUpdater
	Accounts *transport.Accounts
	Workflow *MockWorkflow

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	handlerTimeout time.Duration
	webhooks       bool
	idempotency    bool
	allowSignup    bool
	policyFile     string
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.handlerTimeout = d }
}

// WithoutWebhooks leaves submitted jobs pending instead of dispatching them
// to the mock workflow engine.
func WithoutWebhooks() HarnessOption {
	return func(c *harnessConfig) { c.webhooks = false }
}

// WithoutIdempotency disables Idempotency-Key handling.
func WithoutIdempotency() HarnessOption {
	return func(c *harnessConfig) { c.idempotency = false }
}

// WithSignup lets unknown emails sign up on login.
func WithSignup() HarnessOption {
	return func(c *harnessConfig) { c.allowSignup = true }
}

// WithPolicyFile sets the static role policy file. Relative paths are
// resolved from the testdata directory.
func WithPolicyFile(path string) HarnessOption {
	return func(c *harnessConfig) { c.policyFile = path }
}

// NewTestHarness creates and starts a full server instance. The server is
// automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		webhooks:       true,
		idempotency:    true,
	}
	for _, opt := range opts {
		opt(hc)
	}

	workflow := newMockWorkflow(t, WebhookSecret)

	// The dispatcher builds callback URLs from the public URL, so the
	// listener has to exist before the router is wired.
	server := httptest.NewUnstartedServer(nil)
	publicURL := "http://" + server.Listener.Addr().String()

	cfg := config.Defaults()
	cfg.Server.PublicURL = publicURL
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Auth.JWTSecret = "integration-jwt-secret"
	cfg.Auth.Issuer = "dastyar-integration"
	cfg.Auth.TokenTTL = time.Hour
	cfg.Auth.BcryptCost = 4
	cfg.Auth.AllowSignup = hc.allowSignup
	cfg.Auth.DefaultRoles = []string{"viewer"}
	cfg.Jobs.Webhook.Enabled = hc.webhooks
	cfg.Jobs.Webhook.Secret = WebhookSecret
	cfg.Jobs.Webhook.Timeout = 2 * time.Second
	cfg.Jobs.Webhook.Workers = 2
	cfg.Jobs.CircuitBreaker.FailureThreshold = 3
	cfg.Jobs.CircuitBreaker.Timeout = time.Minute
	cfg.Idempotency.Enabled = hc.idempotency
	cfg.Idempotency.DefaultTTL = time.Hour
	cfg.Definitions.Directories = []string{definitionsFor(t, workflow.URL())}
	if hc.policyFile != "" {
		cfg.Capability.StaticPolicyFile = filepath.Join(testdataDir(), hc.policyFile)
	}

	defs, err := definition.NewLoader().LoadAll(cfg.Definitions.Directories)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if errs := definition.NewValidator([]string{lookup.SourceClients}, []string{"n8n_job"}).Validate(defs); len(errs) > 0 {
		t.Fatalf("validate definitions: %v", errs)
	}
	registry := definition.NewRegistry(defs)

	mem := store.NewMemoryStore()
	evaluator, err := capability.NewStaticPolicyEvaluator(cfg.Capability.StaticPolicyFile)
	if err != nil {
		t.Fatalf("static policy: %v", err)
	}

	broker := jobs.NewMemoryBroker(nil, nil)
	updater := jobs.NewStatusUpdater(mem, broker, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var enqueuer jobs.Enqueuer
	var dispatcher *jobs.Dispatcher
	if hc.webhooks {
		dispatcher = jobs.NewDispatcher(cfg.Jobs, publicURL, updater, nil, nil)
		dispatcher.Start(ctx)
		enqueuer = dispatcher
	}

	checker := dependency.NewChecker(mem, registry, nil, nil)
	svc := action.NewService(mem, registry, checker, nil, nil)

	lookups := lookup.NewProvider(registry, cfg.Lookup.Cache, nil, nil)
	lookups.Register(lookup.SourceClients, lookup.Clients(svc.GetAllClientNames))

	doc, err := openapi.Build(defs, "integration")
	if err != nil {
		t.Fatalf("openapi: %v", err)
	}

	var idempotency crud.IdempotencyStore
	if hc.idempotency {
		idempotency = crud.NewMemoryIdempotencyStore()
	}

	tokens := transport.NewTokenIssuer(cfg.Auth)
	deny := transport.NewMemoryDenylist()
	accounts := transport.NewAccounts(mem, tokens, deny, cfg.Auth, nil, nil)
	rowActions := metadata.NewActionProvider(openapi.BasePath)

	server.Config.Handler = transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Registry:     registry,
		Store:        mem,
		Actions:      svc,
		Checker:      checker,
		Capabilities: capability.NewResolver(evaluator, cfg.Capability.Cache.TTL, nil),
		Lookups:      lookups,
		Search:       search.NewProvider(registry, svc.Rows(), cfg.Search, nil, nil),
		Menu:         metadata.NewMenuProvider(registry, svc.Rows(), nil),
		Tables:       metadata.NewTableProvider(registry, rowActions, cfg.Table),
		Forms:        metadata.NewFormProvider(registry, mem, lookups, rowActions, nil),
		RowActions:   rowActions,
		JobConfig:    jobs.NewConfig(registry, nil),
		Submitter:    jobs.NewSubmitter(mem, enqueuer, nil, nil),
		Broker:       broker,
		Updater:      updater,
		Idempotency:  idempotency,
		Tokens:       tokens,
		Accounts:     accounts,
		Denylist:     deny,
		Readiness: observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { return len(registry.All()) > 0 },
			Store:             observability.CheckFunc(mem.Ping),
		},
		OpenAPI: doc,
	})
	server.Start()

	t.Cleanup(func() {
		server.Close()
		if dispatcher != nil {
			dispatcher.Stop()
		}
		cancel()
	})

	return &TestHarness{
		t:        t,
		server:   server,
		Store:    mem,
		Registry: registry,
		Actions:  svc,
		Broker:   broker,
		Updater:  updater,
		Accounts: accounts,
		Workflow: workflow,
		cfg:      cfg,
	}
}

// BaseURL returns the base URL of the test server.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// CreateOperator stores an operator with the given password and roles.
func (h *TestHarness) CreateOperator(email, password string, roles ...string) store.Operator {
	h.t.Helper()
	hash, err := h.Accounts.HashPassword(password)
	if err != nil {
		h.t.Fatalf("hash password: %v", err)
	}
	op, err := h.Store.CreateOperator(context.Background(), store.Operator{
		Email:        email,
		PasswordHash: hash,
		Roles:        roles,
	})
	if err != nil {
		h.t.Fatalf("create operator: %v", err)
	}
	return op
}

// Login signs in through the API and returns the bearer token.
func (h *TestHarness) Login(email, password string) string {
	h.t.Helper()
	resp := h.POST("/auth/login", map[string]string{"email": email, "password": password}, "")
	var body State[transport.LoginResult]
	h.AssertJSON(h.t, resp, http.StatusOK, &body)
	if body.Data.Token == "" {
		h.t.Fatalf("login returned no token: %+v", body)
	}
	return body.Data.Token
}

// TokenFor creates an operator with roles and signs them in.
func (h *TestHarness) TokenFor(roles ...string) string {
	h.t.Helper()
	email := fmt.Sprintf("%s-%d@example.com", strings.Join(roles, "-"), time.Now().UnixNano())
	h.CreateOperator(email, "pass-1234", roles...)
	return h.Login(email, "pass-1234")
}

// GET performs a GET request against an API path.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, openapi.BasePath+path, nil, token, nil)
}

// GETRaw performs a GET request against a path outside the API prefix.
func (h *TestHarness) GETRaw(path string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, "", nil)
}

// GETWithHeaders performs a GET request with extra headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, openapi.BasePath+path, nil, token, headers)
}

// POST performs a POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, openapi.BasePath+path, body, token, nil)
}

// POSTWithHeaders performs a POST request with extra headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, openapi.BasePath+path, body, token, headers)
}

// PUT performs a PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPut, openapi.BasePath+path, body, token, nil)
}

// DELETE performs a DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodDelete, openapi.BasePath+path, nil, token, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.server.Client().Do(req)
	if err != nil {
		h.t.Fatalf("execute request: %v", err)
	}
	return resp
}

// ParseJSON decodes the response body into target and closes the body.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		h.t.Fatalf("decode response: %v", err)
	}
}

// ReadBody reads and closes the response body.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return b
}

// AssertStatus checks the response status and closes the body.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body := h.ReadBody(resp)
		t.Fatalf("status = %d, want %d; body = %s", resp.StatusCode, expected, body)
	}
	resp.Body.Close()
}

// AssertJSON checks the response status and decodes the body into target.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body := h.ReadBody(resp)
		t.Fatalf("status = %d, want %d; body = %s", resp.StatusCode, expected, body)
	}
	h.ParseJSON(resp, target)
}

// WaitForJobs polls the stored jobs of a row until every one of them has
// left pending, and returns them.
func (h *TestHarness) WaitForJobs(et model.EntityType, id string, want int) []model.Job {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		list, err := h.Store.ListJobs(context.Background(), et, id)
		if err != nil {
			h.t.Fatalf("list jobs: %v", err)
		}
		if len(list) >= want && settled(list) {
			return list
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("jobs of %s %s did not settle: %+v", et, id, list)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func settled(list []model.Job) bool {
	for _, j := range list {
		if j.Status == model.JobPending {
			return false
		}
	}
	return true
}

// State mirrors the action state envelope returned by mutations.
type State[T any] struct {
	Message string      `json:"message"`
	Success bool        `json:"success"`
	Data    T           `json:"data"`
	Jobs    []model.Job `json:"jobs"`
}

// ErrorBody mirrors the error envelope.
type ErrorBody struct {
	Error model.ErrorEnvelope `json:"error"`
}

// ClientFixture returns a valid add-client form.
func ClientFixture(name string) map[string]string {
	return map[string]string{
		"name":        name,
		"phone":       "09121234567",
		"ssn":         "0499370899",
		"address":     "تهران، خیابان آزادی",
		"postal_code": "1234567890",
	}
}

// AddClient creates a client through the API and returns its id.
func (h *TestHarness) AddClient(token, name string) string {
	h.t.Helper()
	var body State[string]
	h.AssertJSON(h.t, h.POST("/entities/client", ClientFixture(name), token), http.StatusOK, &body)
	if !body.Success || body.Data == "" {
		h.t.Fatalf("add client = %+v", body)
	}
	return body.Data
}

// definitionsFor copies the shipped definitions into a temp directory with
// every job URL pointed at workflowURL.
func definitionsFor(t *testing.T, workflowURL string) string {
	t.Helper()
	src := filepath.Join(repoRoot(), "definitions")
	entries, err := os.ReadDir(src)
	if err != nil {
		t.Fatalf("read definitions: %v", err)
	}
	dst := t.TempDir()
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		b, err := os.ReadFile(filepath.Join(src, e.Name()))
		if err != nil {
			t.Fatalf("read %s: %v", e.Name(), err)
		}
		b = bytes.ReplaceAll(b, []byte(jobURLPrefix), []byte(workflowURL))
		if err := os.WriteFile(filepath.Join(dst, e.Name()), b, 0o600); err != nil {
			t.Fatalf("write %s: %v", e.Name(), err)
		}
	}
	return dst
}

func repoRoot() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..")
}

func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}
