package mock

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/loomhq/loom/internal/provider"
	"github.com/loomhq/loom/pkg/models"
)

func collect(t *testing.T, ch <-chan models.ChatEvent) []models.ChatEvent {
	t.Helper()
	var out []models.ChatEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestReplay_TextTurn(t *testing.T) {
	p := New(Turn{Text: "hello world, this is a longer reply"})
	ch, err := p.Chat(context.Background(), &provider.ChatRequest{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	events := collect(t, ch)

	if events[0].Kind != models.ChatMessageStart {
		t.Errorf("first event = %s, want message_start", events[0].Kind)
	}
	last := events[len(events)-1]
	if last.Kind != models.ChatMessageEnd || last.StopReason != models.StopEndTurn {
		t.Errorf("last event = %+v, want message_end/end_turn", last)
	}

	var text string
	for _, ev := range events {
		if ev.Kind == models.ChatContentDelta {
			text += ev.Text
		}
	}
	if text != "hello world, this is a longer reply" {
		t.Errorf("reassembled text = %q", text)
	}
}

func TestReplay_ToolTurn(t *testing.T) {
	p := New(Turn{
		ToolCalls: []models.ToolCall{
			{ID: "call_1", Name: "get_weather", Input: json.RawMessage(`{"location":"NYC"}`)},
		},
	})
	ch, err := p.Chat(context.Background(), &provider.ChatRequest{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	events := collect(t, ch)

	kinds := make([]models.ChatEventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	want := []models.ChatEventKind{
		models.ChatMessageStart,
		models.ChatToolUseStart,
		models.ChatToolUseDelta,
		models.ChatToolUseEnd,
		models.ChatMessageEnd,
	}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", kinds, want)
		}
	}
	if events[len(events)-1].StopReason != models.StopToolUse {
		t.Errorf("stop reason = %s, want tool_use", events[len(events)-1].StopReason)
	}
}

func TestReplay_Truncate(t *testing.T) {
	p := New(Turn{Text: "partial", Truncate: true})
	ch, _ := p.Chat(context.Background(), &provider.ChatRequest{})
	events := collect(t, ch)
	for _, ev := range events {
		if ev.Kind == models.ChatMessageEnd {
			t.Fatal("truncated stream must not emit message_end")
		}
	}
}

func TestScript_Exhausted(t *testing.T) {
	p := New(Turn{Text: "one"})
	ch, _ := p.Chat(context.Background(), &provider.ChatRequest{})
	collect(t, ch)
	if _, err := p.Chat(context.Background(), &provider.ChatRequest{}); err == nil {
		t.Fatal("expected error when script is exhausted")
	}
	if p.Calls() != 2 {
		t.Errorf("calls = %d, want 2", p.Calls())
	}
}
