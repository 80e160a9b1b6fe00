package runner

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/loomhq/loom/internal/memory"
	"github.com/loomhq/loom/internal/provider/mock"
	"github.com/loomhq/loom/internal/trace"
	"github.com/loomhq/loom/pkg/models"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Name() string   { return "fixed" }
func (fixedEmbedder) Dimension() int { return 3 }

func (fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func TestCompactionSummarizesDroppedHistory(t *testing.T) {
	// The summarizer shares the run's provider, so the first scripted turn
	// answers the summary call and the second is the visible reply.
	p := mock.New(
		mock.Turn{Text: "Earlier the user set up three reminders."},
		mock.Turn{Text: "Done."},
	)
	mgr := memory.NewManager(models.MemoryConfig{
		ContextWindow: models.ContextWindowConfig{
			MaxTurnsInContext: 1,
			Compaction:        models.CompactionConfig{Enabled: true},
		},
	}, nil, nil, nil)
	r := New(Config{Provider: p, Memory: mgr, Traces: trace.NewMemoryStore()})

	history := []models.Message{
		{Role: models.RoleUser, Content: "Remind me to water the plants."},
		{Role: models.RoleAssistant, Content: "Reminder set."},
		{Role: models.RoleUser, Content: "Also remind me about the dentist."},
		{Role: models.RoleAssistant, Content: "Done."},
		{Role: models.RoleUser, Content: "And one for the rent."},
		{Role: models.RoleAssistant, Content: "All three are set."},
	}
	tr, err := r.Run(context.Background(), &Input{
		ProjectID:           "p1",
		SessionID:           "s1",
		Message:             "What did I ask you to remind me about?",
		AgentConfig:         baseConfig(),
		ConversationHistory: history,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tr.Status != models.TraceCompleted {
		t.Errorf("status = %s, want completed", tr.Status)
	}
	if n := countEvents(tr, models.TraceEventCompaction); n != 1 {
		t.Errorf("compaction events = %d, want 1", n)
	}

	reqs := p.Requests()
	if len(reqs) != 2 {
		t.Fatalf("provider calls = %d, want 2 (summary + reply)", len(reqs))
	}
	final := reqs[1]
	if len(final.Messages) != 2 {
		t.Fatalf("final request messages = %d, want summary + user", len(final.Messages))
	}
	first := final.Messages[0]
	if first.Role != models.RoleSystem {
		t.Errorf("first message role = %s, want system", first.Role)
	}
	want := "Summary of earlier conversation: Earlier the user set up three reminders."
	if first.Content != want {
		t.Errorf("summary message = %q, want %q", first.Content, want)
	}
}

func TestMemorySectionPerTurnNotAccumulated(t *testing.T) {
	store := memory.NewMemoryStore()
	mgr := memory.NewManager(models.MemoryConfig{
		LongTerm: models.LongTermMemoryConfig{Enabled: true, RetrievalTopK: 3},
	}, store, fixedEmbedder{}, nil)
	if _, err := mgr.StoreMemory(context.Background(), "p1", memory.StoreInput{
		Content: "The user prefers metric units.",
	}); err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}

	p := mock.New(
		mock.Turn{ToolCalls: []models.ToolCall{{
			ID: "t1", Name: "get_weather", Input: json.RawMessage(`{"location":"Berlin"}`),
		}}},
		mock.Turn{Text: "22 degrees Celsius."},
	)
	r := New(Config{Provider: p, Registry: weatherRegistry(t), Memory: mgr, Traces: trace.NewMemoryStore()})

	in := &Input{
		ProjectID:    "p1",
		SessionID:    "s1",
		Message:      "Weather in Berlin?",
		AgentConfig:  baseConfig("get_weather"),
		SystemPrompt: "You are a helpful assistant.",
	}
	if _, err := r.Run(context.Background(), in); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if in.SystemPrompt != "You are a helpful assistant." {
		t.Errorf("input system prompt mutated: %q", in.SystemPrompt)
	}
	reqs := p.Requests()
	if len(reqs) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(reqs))
	}
	for i, req := range reqs {
		if n := strings.Count(req.System, "## Relevant memories"); n != 1 {
			t.Errorf("turn %d: memory sections = %d, want exactly 1\nsystem: %q", i+1, n, req.System)
		}
		if !strings.Contains(req.System, "The user prefers metric units.") {
			t.Errorf("turn %d: memory content missing from system prompt", i+1)
		}
	}
}
