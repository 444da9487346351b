package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chongkelv123/prism-sub004/internal/bus"
	"github.com/chongkelv123/prism-sub004/internal/connection"
	apperrors "github.com/chongkelv123/prism-sub004/internal/pkg/errors"
	"github.com/chongkelv123/prism-sub004/internal/pkg/logger"
	"github.com/chongkelv123/prism-sub004/internal/platform"
	"github.com/chongkelv123/prism-sub004/internal/report"
	"github.com/chongkelv123/prism-sub004/internal/secrets"
	"github.com/chongkelv123/prism-sub004/internal/verify"
)

// eventCollector records events published on the bus during a test.
type eventCollector struct {
	mu     sync.Mutex
	events []bus.Event
}

func (c *eventCollector) handler(ctx context.Context, event bus.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *eventCollector) waitFor(t *testing.T, key string) bus.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for _, e := range c.events {
			if e.Key == key {
				c.mu.Unlock()
				return e
			}
		}
		c.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no %q event published", key)
	return bus.Event{}
}

// newJiraStub serves a minimal happy-path Jira API.
func newJiraStub(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		switch r.URL.Path {
		case "/rest/api/3/myself":
			w.Write([]byte(`{"accountId":"u1","displayName":"Dana"}`))
		case "/rest/api/3/project/search":
			w.Write([]byte(`{"total":1,"values":[{"id":"1","key":"DEMO","name":"Demo"}]}`))
		case "/rest/api/3/search":
			w.Write([]byte(`{"total":1,"issues":[{"id":"10","key":"DEMO-1","fields":{"summary":"Task","status":{"name":"Done"}}}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

type testEnv struct {
	bus         *bus.MemoryBus
	connections *connection.Service
	dispatcher  *Dispatcher
	collector   *eventCollector
	connID      string
}

func newTestEnv(t *testing.T, serverURL string) *testEnv {
	t.Helper()
	log := logger.Default()

	memBus := bus.NewMemoryBus(log)
	collector := &eventCollector{}
	if err := memBus.Subscribe(context.Background(), "#", collector.handler); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	connections, err := connection.NewService(memBus, connection.ServiceConfig{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	blob, err := secrets.EncodeConfig(secrets.Plaintext{}, &secrets.PlatformConfig{
		ServerURL: serverURL,
		Email:     "pm@example.com",
		APIToken:  "tok",
	})
	if err != nil {
		t.Fatalf("EncodeConfig() error = %v", err)
	}
	conn := connection.NewConnection("user1", "Team Board", connection.PlatformJira, blob)
	if err := connections.Register(context.Background(), conn); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	factory := platform.NewFactory(secrets.Plaintext{}, platform.Config{Timeout: 5 * time.Second}, log)
	dispatcher := NewDispatcher(
		memBus,
		connections,
		factory,
		verify.NewVerifier(log),
		report.NewService(report.ServiceConfig{}, log),
		log,
	)
	return &testEnv{
		bus:         memBus,
		connections: connections,
		dispatcher:  dispatcher,
		collector:   collector,
		connID:      conn.ID,
	}
}

func mustEvent(t *testing.T, key string, payload any) bus.Event {
	t.Helper()
	event, err := bus.NewEvent(key, "test", payload)
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}
	return event
}

func TestHandleTestRequested_Success(t *testing.T) {
	srv := newJiraStub(t, http.StatusOK)
	defer srv.Close()
	env := newTestEnv(t, srv.URL)

	event := mustEvent(t, bus.KeyConnectionTestRequested, TestRequestedPayload{ConnectionID: env.connID})
	if err := env.dispatcher.HandleTestRequested(context.Background(), event); err != nil {
		t.Fatalf("HandleTestRequested() error = %v", err)
	}

	completed := env.collector.waitFor(t, bus.KeyConnectionTestCompleted)
	var payload TestCompletedPayload
	if err := json.Unmarshal(completed.Payload, &payload); err != nil {
		t.Fatalf("decoding completed payload: %v", err)
	}
	if !payload.Result.Success {
		t.Errorf("result = %+v, want success", payload.Result)
	}
	if len(payload.Result.Steps) != 3 {
		t.Errorf("got %d steps, want 3", len(payload.Result.Steps))
	}

	conn, err := env.connections.Get(context.Background(), env.connID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if conn.Status != connection.StatusConnected {
		t.Errorf("status = %q, want connected", conn.Status)
	}
}

func TestHandleTestRequested_AuthFailure(t *testing.T) {
	srv := newJiraStub(t, http.StatusUnauthorized)
	defer srv.Close()
	env := newTestEnv(t, srv.URL)

	event := mustEvent(t, bus.KeyConnectionTestRequested, TestRequestedPayload{ConnectionID: env.connID})
	if err := env.dispatcher.HandleTestRequested(context.Background(), event); err != nil {
		t.Fatalf("HandleTestRequested() error = %v", err)
	}

	completed := env.collector.waitFor(t, bus.KeyConnectionTestCompleted)
	var payload TestCompletedPayload
	if err := json.Unmarshal(completed.Payload, &payload); err != nil {
		t.Fatalf("decoding completed payload: %v", err)
	}
	if payload.Result.Success {
		t.Error("result success = true, want false")
	}
	if len(payload.Result.Steps) != 1 {
		t.Errorf("got %d steps, want halt after authentication", len(payload.Result.Steps))
	}

	conn, _ := env.connections.Get(context.Background(), env.connID)
	if conn.Status != connection.StatusError {
		t.Errorf("status = %q, want error", conn.Status)
	}
}

func TestHandleTestRequested_MalformedPayload(t *testing.T) {
	srv := newJiraStub(t, http.StatusOK)
	defer srv.Close()
	env := newTestEnv(t, srv.URL)

	event := bus.Event{
		ID:      "evt_bad",
		Key:     bus.KeyConnectionTestRequested,
		Payload: json.RawMessage(`{not json`),
	}
	err := env.dispatcher.HandleTestRequested(context.Background(), event)
	if !apperrors.IsMalformedEvent(err) {
		t.Fatalf("error = %v, want malformed event", err)
	}
}

func TestHandleTestRequested_UnknownConnection(t *testing.T) {
	srv := newJiraStub(t, http.StatusOK)
	defer srv.Close()
	env := newTestEnv(t, srv.URL)

	event := mustEvent(t, bus.KeyConnectionTestRequested, TestRequestedPayload{ConnectionID: "conn_missing"})
	err := env.dispatcher.HandleTestRequested(context.Background(), event)
	if !apperrors.IsNotFound(err) {
		t.Fatalf("error = %v, want not found", err)
	}
}

func TestHandleSyncRequested_Idempotent(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		switch r.URL.Path {
		case "/rest/api/3/myself":
			w.Write([]byte(`{"accountId":"u1","displayName":"Dana"}`))
		case "/rest/api/3/project/search":
			w.Write([]byte(`{"total":1,"values":[{"id":"1","key":"DEMO","name":"Demo"}]}`))
		case "/rest/api/3/search":
			w.Write([]byte(`{"total":1,"issues":[{"id":"10","key":"DEMO-1","fields":{"summary":"Task","status":{"name":"Done"}}}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	env := newTestEnv(t, srv.URL)

	event := mustEvent(t, bus.KeyConnectionSyncRequested, SyncRequestedPayload{ConnectionID: env.connID})

	// Redelivery of the same event must converge on the same state.
	for range 2 {
		if err := env.dispatcher.HandleSyncRequested(context.Background(), event); err != nil {
			t.Fatalf("HandleSyncRequested() error = %v", err)
		}
	}

	conn, err := env.connections.Get(context.Background(), env.connID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if conn.LastSyncAt.IsZero() {
		t.Fatal("LastSyncAt not recorded")
	}
	if conn.LastSyncError != "" {
		t.Errorf("LastSyncError = %q, want empty", conn.LastSyncError)
	}
	if conn.Status != connection.StatusConnected {
		t.Errorf("status = %q, want connected", conn.Status)
	}

	// A sync exercises the full retrieval path, not just the identity probe.
	mu.Lock()
	defer mu.Unlock()
	for _, path := range []string{"/rest/api/3/myself", "/rest/api/3/project/search", "/rest/api/3/search"} {
		if hits[path] == 0 {
			t.Errorf("sync never called %s, hits = %v", path, hits)
		}
	}
}

func TestHandleSyncRequested_ProjectAccessFailure(t *testing.T) {
	// Credentials work, project listing does not: the sync must surface the
	// broken access instead of marking the connection connected.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/api/3/myself":
			w.Write([]byte(`{"accountId":"u1","displayName":"Dana"}`))
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()
	env := newTestEnv(t, srv.URL)

	event := mustEvent(t, bus.KeyConnectionSyncRequested, SyncRequestedPayload{ConnectionID: env.connID})
	if err := env.dispatcher.HandleSyncRequested(context.Background(), event); err != nil {
		t.Fatalf("HandleSyncRequested() error = %v", err)
	}

	conn, _ := env.connections.Get(context.Background(), env.connID)
	if conn.Status != connection.StatusError {
		t.Errorf("status = %q, want error", conn.Status)
	}
	if conn.LastSyncError == "" {
		t.Error("LastSyncError not recorded for broken project access")
	}
}

func TestHandleSyncRequested_RecordsFailure(t *testing.T) {
	srv := newJiraStub(t, http.StatusUnauthorized)
	defer srv.Close()
	env := newTestEnv(t, srv.URL)

	event := mustEvent(t, bus.KeyConnectionSyncRequested, SyncRequestedPayload{ConnectionID: env.connID})
	if err := env.dispatcher.HandleSyncRequested(context.Background(), event); err != nil {
		t.Fatalf("HandleSyncRequested() error = %v", err)
	}

	conn, _ := env.connections.Get(context.Background(), env.connID)
	if conn.LastSyncError == "" {
		t.Error("LastSyncError not recorded for failed sync")
	}
}

func TestHandleReportRequested(t *testing.T) {
	srv := newJiraStub(t, http.StatusOK)
	defer srv.Close()
	env := newTestEnv(t, srv.URL)

	event := mustEvent(t, bus.KeyReportDataRequested, ReportRequestedPayload{
		RequestID:    "req_1",
		ConnectionID: env.connID,
	})
	if err := env.dispatcher.HandleReportRequested(context.Background(), event); err != nil {
		t.Fatalf("HandleReportRequested() error = %v", err)
	}

	ready := env.collector.waitFor(t, bus.KeyReportDataReady)
	var payload ReportReadyPayload
	if err := json.Unmarshal(ready.Payload, &payload); err != nil {
		t.Fatalf("decoding ready payload: %v", err)
	}
	if payload.RequestID != "req_1" {
		t.Errorf("RequestID = %q, want req_1", payload.RequestID)
	}
	if payload.Report == nil || len(payload.Report.Projects) != 1 {
		t.Fatalf("report = %+v", payload.Report)
	}
	if payload.Report.Projects[0].Project.Key != "DEMO" {
		t.Errorf("project = %+v", payload.Report.Projects[0].Project)
	}
}

func TestPayloads_WireFieldNames(t *testing.T) {
	// Peer services publish camelCase keys; these exact names are the
	// cross-service contract.
	srv := newJiraStub(t, http.StatusOK)
	defer srv.Close()
	env := newTestEnv(t, srv.URL)

	event := bus.Event{
		ID:      "evt_peer",
		Key:     bus.KeyConnectionTestRequested,
		Source:  "prism-gateway",
		Payload: json.RawMessage(`{"connectionId":"` + env.connID + `"}`),
	}
	if err := env.dispatcher.HandleTestRequested(context.Background(), event); err != nil {
		t.Fatalf("HandleTestRequested() error = %v", err)
	}

	completed := env.collector.waitFor(t, bus.KeyConnectionTestCompleted)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(completed.Payload, &raw); err != nil {
		t.Fatalf("decoding completed payload: %v", err)
	}
	if _, ok := raw["connectionId"]; !ok {
		t.Errorf("completed payload keys = %v, want connectionId", raw)
	}

	data, err := json.Marshal(ReportRequestedPayload{ConnectionID: "c1", ProjectID: "DEMO"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, key := range []string{`"connectionId"`, `"projectId"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("report request payload = %s, want %s", data, key)
		}
	}
}

func TestDispatcher_RegisterAndRoute(t *testing.T) {
	srv := newJiraStub(t, http.StatusOK)
	defer srv.Close()
	env := newTestEnv(t, srv.URL)

	if err := env.dispatcher.Register(context.Background()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	event := mustEvent(t, bus.KeyConnectionTestRequested, TestRequestedPayload{ConnectionID: env.connID})
	if err := env.bus.Publish(context.Background(), event.Key, event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	env.collector.waitFor(t, bus.KeyConnectionTestCompleted)
}
