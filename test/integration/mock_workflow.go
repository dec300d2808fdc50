package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pitabwire/dastyar/internal/jobs"
	"github.com/pitabwire/dastyar/model"
)

// MockWorkflow is a test HTTP server that stands in for the workflow
// engine. It records every job webhook it receives and, unless told
// otherwise, reports each job back through its callback URL.
type MockWorkflow struct {
	t      *testing.T
	server *httptest.Server
	client *http.Client
	secret string

	mu       sync.Mutex
	received []RecordedWebhook
	status   int
	report   model.JobStatus
	delay    time.Duration
}

// RecordedWebhook captures one webhook call.
type RecordedWebhook struct {
	Path       string
	Secret     string
	Payload    jobs.WebhookPayload
	ReceivedAt time.Time
}

func newMockWorkflow(t *testing.T, secret string) *MockWorkflow {
	t.Helper()
	mw := &MockWorkflow{
		t:      t,
		secret: secret,
		client: &http.Client{Timeout: 5 * time.Second},
		status: http.StatusOK,
		report: model.JobDone,
	}
	mw.server = httptest.NewServer(http.HandlerFunc(mw.handle))
	t.Cleanup(mw.server.Close)
	return mw
}

// URL returns the base URL of the mock workflow engine.
func (mw *MockWorkflow) URL() string {
	return mw.server.URL
}

// RespondWith sets the status code returned to webhook calls. Calls that
// get a non-2xx status are not reported back.
func (mw *MockWorkflow) RespondWith(status int) *MockWorkflow {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.status = status
	return mw
}

// Report sets the status sent through the callback URL. An empty status
// leaves the jobs pending.
func (mw *MockWorkflow) Report(status model.JobStatus) *MockWorkflow {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.report = status
	return mw
}

// ReportAfter delays every callback by d.
func (mw *MockWorkflow) ReportAfter(d time.Duration) *MockWorkflow {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.delay = d
	return mw
}

// Close stops the server so that webhook calls fail to connect.
func (mw *MockWorkflow) Close() {
	mw.server.Close()
}

// Received returns the webhooks received so far.
func (mw *MockWorkflow) Received() []RecordedWebhook {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return append([]RecordedWebhook(nil), mw.received...)
}

// WaitForCalls blocks until n webhooks have arrived.
func (mw *MockWorkflow) WaitForCalls(n int) []RecordedWebhook {
	mw.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		got := mw.Received()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			mw.t.Fatalf("workflow received %d webhooks, want %d", len(got), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (mw *MockWorkflow) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var payload jobs.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	mw.mu.Lock()
	mw.received = append(mw.received, RecordedWebhook{
		Path:       r.URL.Path,
		Secret:     r.Header.Get(jobs.WebhookSecretHeader),
		Payload:    payload,
		ReceivedAt: time.Now(),
	})
	status, report, delay := mw.status, mw.report, mw.delay
	mw.mu.Unlock()

	w.WriteHeader(status)
	if status < 200 || status >= 300 || report == "" {
		return
	}
	go mw.callback(payload.CallbackURL, report, delay)
}

func (mw *MockWorkflow) callback(url string, status model.JobStatus, delay time.Duration) {
	time.Sleep(delay)
	body, _ := json.Marshal(map[string]model.JobStatus{"status": status})
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(jobs.WebhookSecretHeader, mw.secret)
	resp, err := mw.client.Do(req)
	if err != nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
