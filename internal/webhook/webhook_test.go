package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/loomhq/loom/internal/channels"
	"github.com/loomhq/loom/internal/contacts"
	"github.com/loomhq/loom/internal/inbound"
	"github.com/loomhq/loom/internal/metrics"
	"github.com/loomhq/loom/internal/queue"
	"github.com/loomhq/loom/internal/runner"
	"github.com/loomhq/loom/pkg/models"
)

type fakeAdapter struct {
	parsed   *models.InboundMessage
	parseErr error
	sent     []models.OutboundMessage
	handoffs []string
}

func (f *fakeAdapter) Provider() string { return "telegram" }
func (f *fakeAdapter) Send(ctx context.Context, msg *models.OutboundMessage) (string, error) {
	f.sent = append(f.sent, *msg)
	return "m-1", nil
}
func (f *fakeAdapter) Parse(payload []byte) (*models.InboundMessage, error) {
	return f.parsed, f.parseErr
}
func (f *fakeAdapter) Handoff(ctx context.Context, conversationID, reason string) error {
	f.handoffs = append(f.handoffs, conversationID)
	return nil
}

type fakeResolver struct{ adapter channels.Adapter }

func (f *fakeResolver) Resolve(ctx context.Context, projectID, provider string) (channels.Adapter, error) {
	return f.adapter, nil
}

type fakeRunner struct {
	calls    int
	response string
	err      error
}

func (f *fakeRunner) RunChat(ctx context.Context, req *runner.ChatRequest) (*runner.ChatResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &runner.ChatResult{SessionID: req.SessionID, Response: f.response}, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newProcessor(adapter channels.Adapter, agent *fakeRunner) *Processor {
	resolver := &fakeResolver{adapter: adapter}
	ip := inbound.NewProcessor(contacts.NewMemoryStore(), agent, resolver, discard())
	return NewProcessor(resolver, ip, discard())
}

func jobFor(t *testing.T, event *Event) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}
	return &queue.Job{ID: "j1", Queue: QueueName, Payload: payload, Attempt: 1, MaxAttempts: MaxAttempts}
}

func testEvent() *Event {
	return &Event{
		WebhookID: "wh-1",
		ProjectID: "proj-1",
		Provider:  "telegram",
		Payload:   json.RawMessage(`{}`),
	}
}

func incoming() *models.InboundMessage {
	return &models.InboundMessage{
		ProjectID:      "proj-1",
		Provider:       "telegram",
		SenderID:       "tg-1",
		ConversationID: "42",
		Text:           "hello",
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	svc := NewService(queue.NewMemory(), discard())
	ctx := context.Background()

	if ok, err := svc.Enqueue(ctx, testEvent()); err != nil || !ok {
		t.Fatalf("first Enqueue = %v, %v", ok, err)
	}
	if ok, _ := svc.Enqueue(ctx, testEvent()); ok {
		t.Error("duplicate webhook_id must be dropped")
	}
	if ok, _ := svc.Enqueue(ctx, &Event{WebhookID: "wh-2", ProjectID: "proj-1", Provider: "telegram"}); !ok {
		t.Error("distinct webhook_id must pass")
	}
}

func TestHandleNoAdapterIsTerminal(t *testing.T) {
	p := newProcessor(nil, &fakeRunner{})
	err := p.Handle(context.Background(), jobFor(t, testEvent()))
	if !queue.IsTerminal(err) {
		t.Errorf("err = %v, want terminal", err)
	}
}

func TestHandleNonIncomingEventIsNoop(t *testing.T) {
	agent := &fakeRunner{}
	p := newProcessor(&fakeAdapter{parsed: nil}, agent)
	if err := p.Handle(context.Background(), jobFor(t, testEvent())); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if agent.calls != 0 {
		t.Error("non-incoming event must not reach the agent")
	}
}

func TestHandleParseErrorIsTerminal(t *testing.T) {
	p := newProcessor(&fakeAdapter{parseErr: errors.New("bad payload")}, &fakeRunner{})
	err := p.Handle(context.Background(), jobFor(t, testEvent()))
	if !queue.IsTerminal(err) {
		t.Errorf("err = %v, want terminal", err)
	}
}

func TestHandleEscalationSkipsAgent(t *testing.T) {
	msg := incoming()
	msg.Text = "I need to talk to a human please"
	adapter := &fakeAdapter{parsed: msg}
	agent := &fakeRunner{}
	p := newProcessor(adapter, agent)

	if err := p.Handle(context.Background(), jobFor(t, testEvent())); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if agent.calls != 0 {
		t.Error("escalation must bypass the agent")
	}
	if len(adapter.handoffs) != 1 {
		t.Errorf("handoffs = %v", adapter.handoffs)
	}
}

func TestHandleRunsAgentAndReplies(t *testing.T) {
	adapter := &fakeAdapter{parsed: incoming()}
	agent := &fakeRunner{response: "Hi!"}
	p := newProcessor(adapter, agent)

	if err := p.Handle(context.Background(), jobFor(t, testEvent())); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if agent.calls != 1 || len(adapter.sent) != 1 || adapter.sent[0].Text != "Hi!" {
		t.Errorf("calls = %d, sent = %+v", agent.calls, adapter.sent)
	}
}

func TestHandleAgentFailureIsRetryable(t *testing.T) {
	adapter := &fakeAdapter{parsed: incoming()}
	p := newProcessor(adapter, &fakeRunner{err: errors.New("upstream 503")})

	err := p.Handle(context.Background(), jobFor(t, testEvent()))
	if err == nil || queue.IsTerminal(err) {
		t.Errorf("err = %v, want retryable failure", err)
	}
}

func TestHandleCountsOutcomes(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	ok := newProcessor(&fakeAdapter{parsed: incoming()}, &fakeRunner{response: "Hi!"})
	ok.Metrics = m
	if err := ok.Handle(context.Background(), jobFor(t, testEvent())); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	noop := newProcessor(&fakeAdapter{parsed: nil}, &fakeRunner{})
	noop.Metrics = m
	if err := noop.Handle(context.Background(), jobFor(t, testEvent())); err != nil {
		t.Fatalf("Handle noop: %v", err)
	}

	bad := newProcessor(&fakeAdapter{parseErr: errors.New("bad payload")}, &fakeRunner{})
	bad.Metrics = m
	if err := bad.Handle(context.Background(), jobFor(t, testEvent())); err == nil {
		t.Fatal("parse failure must error")
	}

	for label, want := range map[string]float64{"processed": 1, "noop": 1, "dropped": 1} {
		if got := testutil.ToFloat64(m.WebhookJobCounter.WithLabelValues(label)); got != want {
			t.Errorf("%s jobs = %v, want %v", label, got, want)
		}
	}
}
