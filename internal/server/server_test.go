package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loomhq/loom/internal/approval"
	"github.com/loomhq/loom/internal/contacts"
	"github.com/loomhq/loom/internal/costguard"
	"github.com/loomhq/loom/internal/projects"
	"github.com/loomhq/loom/internal/prompt"
	"github.com/loomhq/loom/internal/provider"
	"github.com/loomhq/loom/internal/provider/mock"
	"github.com/loomhq/loom/internal/queue"
	"github.com/loomhq/loom/internal/runner"
	"github.com/loomhq/loom/internal/sessions"
	"github.com/loomhq/loom/internal/tools"
	"github.com/loomhq/loom/internal/trace"
	"github.com/loomhq/loom/internal/webhook"
	"github.com/loomhq/loom/pkg/models"
)

type fixture struct {
	server    *Server
	projects  projects.Store
	sessions  sessions.Store
	contacts  contacts.Store
	approvals *approval.Gate
	usage     costguard.Store
	traces    trace.Store
	layers    prompt.LayerStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	f := &fixture{
		projects:  projects.NewMemoryStore(),
		sessions:  sessions.NewMemoryStore(),
		contacts:  contacts.NewMemoryStore(),
		approvals: approval.NewGate(approval.NewMemoryStore(), approval.Config{Logger: logger}),
		usage:     costguard.NewMemoryStore(),
		traces:    trace.NewMemoryStore(),
		layers:    prompt.NewMemoryLayerStore(),
	}
	host := runner.NewHost(runner.HostConfig{
		Projects: f.projects,
		Sessions: f.sessions,
		Traces:   f.traces,
		Registry: tools.NewRegistry(),
		Providers: func(cfg models.ProviderConfig, _ *slog.Logger) (provider.Provider, error) {
			return mock.New(mock.Turn{Text: "hello from the agent"}), nil
		},
		Logger: logger,
	})
	f.server = New(Config{
		Projects:  f.projects,
		Sessions:  f.sessions,
		Contacts:  f.contacts,
		Approvals: f.approvals,
		Usage:     f.usage,
		Traces:    f.traces,
		Layers:    f.layers,
		Host:      host,
		Logger:    logger,
	})
	return f
}

func seedProject(t *testing.T, f *fixture, id string) *models.Project {
	t.Helper()
	p := &models.Project{
		ID:   id,
		Name: "Project " + id,
		AgentConfig: models.AgentConfig{
			ProjectID: id,
			Provider:  models.ProviderConfig{Provider: "mock", Model: "mock-1"},
		},
		CreatedAt: time.Now(),
	}
	if err := f.projects.Create(context.Background(), p); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return p
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode envelope: %v (body %q)", method, path, err, rec.Body.String())
	}
	return rec, env
}

func TestProjectEndpoints(t *testing.T) {
	f := newFixture(t)
	h := f.server.Handler()

	p := &models.Project{
		ID:   "proj-1",
		Name: "First",
		AgentConfig: models.AgentConfig{
			ProjectID: "proj-1",
			Provider:  models.ProviderConfig{Provider: "mock", Model: "m"},
		},
	}
	rec, env := doJSON(t, h, http.MethodPost, "/api/v1/projects", p)
	if rec.Code != http.StatusCreated || !env.Success {
		t.Fatalf("create = %d %+v", rec.Code, env)
	}

	rec, env = doJSON(t, h, http.MethodGet, "/api/v1/projects/proj-1", nil)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("get = %d %+v", rec.Code, env)
	}

	rec, env = doJSON(t, h, http.MethodGet, "/api/v1/projects/nope", nil)
	if rec.Code != http.StatusNotFound || env.Success {
		t.Fatalf("missing get = %d %+v", rec.Code, env)
	}
	if env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("missing get error = %+v", env.Error)
	}

	rec, _ = doJSON(t, h, http.MethodPatch, "/api/v1/projects/proj-1",
		map[string]string{"name": "Renamed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch = %d", rec.Code)
	}
	got, _ := f.projects.Get(context.Background(), "proj-1")
	if got.Name != "Renamed" {
		t.Fatalf("name after patch = %q", got.Name)
	}

	rec, _ = doJSON(t, h, http.MethodDelete, "/api/v1/projects/proj-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete = %d", rec.Code)
	}
	if got, _ := f.projects.Get(context.Background(), "proj-1"); got != nil {
		t.Fatal("project survived delete")
	}
}

func TestDeleteProjectWithSessionsFails(t *testing.T) {
	f := newFixture(t)
	seedProject(t, f, "proj-1")
	sess := sessions.NewSession("proj-1", "", "")
	if err := f.sessions.Create(context.Background(), sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	rec, env := doJSON(t, f.server.Handler(), http.MethodDelete, "/api/v1/projects/proj-1", nil)
	if rec.Code != http.StatusBadRequest || env.Success {
		t.Fatalf("delete = %d %+v", rec.Code, env)
	}
	if !strings.Contains(env.Error.Message, "sessions") {
		t.Fatalf("error = %q", env.Error.Message)
	}
}

func TestSessionAndMessageEndpoints(t *testing.T) {
	f := newFixture(t)
	seedProject(t, f, "proj-1")
	sess := sessions.NewSession("proj-1", "contact-1", "api")
	if err := f.sessions.Create(context.Background(), sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	msg := &models.Message{SessionID: sess.ID, Role: models.RoleUser, Content: "hi", CreatedAt: time.Now()}
	if err := f.sessions.AppendMessage(context.Background(), msg); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	h := f.server.Handler()
	rec, env := doJSON(t, h, http.MethodGet, "/api/v1/projects/proj-1/sessions?status=active", nil)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("list sessions = %d %+v", rec.Code, env)
	}

	rec, _ = doJSON(t, h, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/messages", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("messages = %d", rec.Code)
	}

	rec, _ = doJSON(t, h, http.MethodGet, "/api/v1/sessions/missing/messages", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing session messages = %d", rec.Code)
	}
}

func TestApprovalEndpoints(t *testing.T) {
	f := newFixture(t)
	a := &models.Approval{
		ID:          "appr-1",
		ProjectID:   "proj-1",
		ToolID:      "shell",
		Status:      models.ApprovalPending,
		RequestedAt: time.Now(),
	}
	store := approval.NewMemoryStore()
	if err := store.Create(context.Background(), a); err != nil {
		t.Fatalf("seed approval: %v", err)
	}
	f.approvals = approval.NewGate(store, approval.Config{})
	f.server = New(Config{
		Projects:  f.projects,
		Sessions:  f.sessions,
		Contacts:  f.contacts,
		Approvals: f.approvals,
		Usage:     f.usage,
		Traces:    f.traces,
		Layers:    f.layers,
	})
	h := f.server.Handler()

	rec, env := doJSON(t, h, http.MethodGet, "/api/v1/approvals?status=pending", nil)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("list = %d %+v", rec.Code, env)
	}

	rec, env = doJSON(t, h, http.MethodPost, "/api/v1/approvals/appr-1/approve",
		map[string]string{"by": "ops@example.com", "note": "fine"})
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("approve = %d %+v", rec.Code, env)
	}
	got, _ := store.Get(context.Background(), "appr-1")
	if got.Status != models.ApprovalApproved || got.ResolvedBy != "ops@example.com" {
		t.Fatalf("approval after approve = %+v", got)
	}

	// Resolving twice is a validation error.
	rec, env = doJSON(t, h, http.MethodPost, "/api/v1/approvals/appr-1/reject", nil)
	if rec.Code != http.StatusBadRequest || env.Error == nil {
		t.Fatalf("double resolve = %d %+v", rec.Code, env)
	}
}

func TestUsageEndpoint(t *testing.T) {
	f := newFixture(t)
	seedProject(t, f, "proj-1")
	now := time.Now()
	for i, cost := range []float64{0.5, 0.25} {
		rec := &models.UsageRecord{
			ProjectID:    "proj-1",
			Timestamp:    now.Add(-time.Duration(i) * time.Hour),
			Provider:     "mock",
			Model:        "m",
			InputTokens:  100,
			OutputTokens: 20,
			CostUSD:      cost,
		}
		if err := f.usage.Append(context.Background(), rec); err != nil {
			t.Fatalf("seed usage: %v", err)
		}
	}

	rec, env := doJSON(t, f.server.Handler(), http.MethodGet, "/api/v1/projects/proj-1/usage?period=day", nil)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("usage = %d %+v", rec.Code, env)
	}
	raw, _ := json.Marshal(env.Data)
	var summary usageSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Requests != 2 || summary.TotalCostUSD < 0.74 || summary.TotalCostUSD > 0.76 {
		t.Fatalf("summary = %+v", summary)
	}

	rec, _ = doJSON(t, f.server.Handler(), http.MethodGet, "/api/v1/projects/proj-1/usage?period=decade", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad period = %d", rec.Code)
	}
}

func TestLayerEndpoints(t *testing.T) {
	f := newFixture(t)
	seedProject(t, f, "proj-1")
	h := f.server.Handler()

	rec, env := doJSON(t, h, http.MethodPost, "/api/v1/projects/proj-1/prompt-layers",
		createLayerRequest{LayerType: "identity", Content: "You are a helpful assistant."})
	if rec.Code != http.StatusCreated || !env.Success {
		t.Fatalf("create layer = %d %+v", rec.Code, env)
	}
	raw, _ := json.Marshal(env.Data)
	var first models.PromptLayer
	if err := json.Unmarshal(raw, &first); err != nil {
		t.Fatalf("decode layer: %v", err)
	}
	if first.Version != 1 {
		t.Fatalf("first version = %d", first.Version)
	}

	rec, env = doJSON(t, h, http.MethodPost, "/api/v1/projects/proj-1/prompt-layers",
		createLayerRequest{LayerType: "identity", Content: "Second identity.", Activate: true})
	if rec.Code != http.StatusCreated {
		t.Fatalf("second layer = %d %+v", rec.Code, env)
	}

	active, err := f.layers.Active(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if got := active[models.LayerIdentity]; got == nil || got.Version != 2 {
		t.Fatalf("active identity = %+v", got)
	}

	rec, _ = doJSON(t, h, http.MethodPost, "/api/v1/prompt-layers/"+first.ID+"/activate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("activate = %d", rec.Code)
	}

	rec, _ = doJSON(t, h, http.MethodPost, "/api/v1/projects/proj-1/prompt-layers",
		createLayerRequest{LayerType: "poetry", Content: "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad kind = %d", rec.Code)
	}
}

func TestWebhookIntake(t *testing.T) {
	f := newFixture(t)
	broker := queue.NewMemory()
	f.server = New(Config{
		Projects:  f.projects,
		Sessions:  f.sessions,
		Contacts:  f.contacts,
		Approvals: f.approvals,
		Usage:     f.usage,
		Traces:    f.traces,
		Layers:    f.layers,
		Webhooks:  webhook.NewService(broker, nil),
	})
	h := f.server.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/proj-1/telegram",
		strings.NewReader(`{"update_id": 7}`))
	req.Header.Set("X-Webhook-ID", "tg-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("intake = %d (%s)", rec.Code, rec.Body.String())
	}
	depth, _ := broker.Depth(context.Background(), webhook.QueueName)
	if depth != 1 {
		t.Fatalf("queue depth = %d", depth)
	}

	// Same delivery ID is dropped.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/proj-1/telegram",
		strings.NewReader(`{"update_id": 7}`))
	req.Header.Set("X-Webhook-ID", "tg-7")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("duplicate intake = %d", rec.Code)
	}
	if depth, _ = broker.Depth(context.Background(), webhook.QueueName); depth != 1 {
		t.Fatalf("queue depth after duplicate = %d", depth)
	}

	// Non-JSON bodies are rejected up front.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/proj-1/telegram",
		strings.NewReader("not json"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad body = %d", rec.Code)
	}
}

func TestChatStreamWebSocket(t *testing.T) {
	f := newFixture(t)
	seedProject(t, f, "proj-1")

	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/chat/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(chatFrame{ProjectID: "proj-1", Message: "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var types []models.StreamEventType
	var final models.AgentStreamEvent
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		var ev models.AgentStreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read (events so far %v): %v", types, err)
		}
		types = append(types, ev.Type)
		if ev.Type == models.StreamAgentComplete || ev.Type == models.StreamError {
			final = ev
			break
		}
	}

	if final.Type != models.StreamAgentComplete {
		t.Fatalf("terminal event = %+v", final)
	}
	if final.Response != "hello from the agent" {
		t.Fatalf("response = %q", final.Response)
	}
	if types[0] != models.StreamAgentStart {
		t.Fatalf("first event = %v", types[0])
	}

	// Unknown project yields an error frame, and the connection survives.
	if err := conn.WriteJSON(chatFrame{ProjectID: "ghost", Message: "hi"}); err != nil {
		t.Fatalf("write second: %v", err)
	}
	var ev models.AgentStreamEvent
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if ev.Type != models.StreamError || ev.ErrorCode != "VALIDATION_ERROR" {
		t.Fatalf("error frame = %+v", ev)
	}
}
