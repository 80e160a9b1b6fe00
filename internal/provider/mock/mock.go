// Package mock provides a scriptable provider for tests. Each scripted turn
// is replayed as a well-formed event stream, or as a failure when the turn
// says so.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/loomhq/loom/internal/provider"
	"github.com/loomhq/loom/pkg/models"
)

// Turn scripts one model invocation.
type Turn struct {
	// Text is streamed as content deltas, split into small chunks.
	Text string

	// ToolCalls are emitted as tool_use_start/delta/end sequences.
	ToolCalls []models.ToolCall

	// StopReason defaults to end_turn, or tool_use when ToolCalls is set.
	StopReason models.StopReason

	// Usage reported on message_end. Zero values get a small default.
	Usage models.TokenUsage

	// Err, when set, fails the call before any event is produced.
	Err error

	// StreamErr, when set, emits an error event mid-stream instead of
	// completing the message.
	StreamErr error

	// Truncate closes the stream without message_end, simulating a
	// dropped connection.
	Truncate bool
}

// Provider replays scripted turns in order. Safe for concurrent use.
type Provider struct {
	mu       sync.Mutex
	turns    []Turn
	next     int
	requests []*provider.ChatRequest

	// ModelName reported by Model(). Defaults to "mock-model".
	ModelName string

	// Window reported by ContextWindow(). Defaults to 8000.
	Window int

	// TokensPerChar overrides token estimation. Zero uses len/4.
	TokensPerChar int
}

// New creates a mock provider with the given script.
func New(turns ...Turn) *Provider {
	return &Provider{turns: turns}
}

// Append adds turns to the script.
func (p *Provider) Append(turns ...Turn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, turns...)
}

// Requests returns the requests received so far.
func (p *Provider) Requests() []*provider.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*provider.ChatRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// Calls returns how many times Chat was invoked.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *Provider) Name() string          { return "mock" }
func (p *Provider) SupportsToolUse() bool { return true }

func (p *Provider) Model() string {
	if p.ModelName != "" {
		return p.ModelName
	}
	return "mock-model"
}

func (p *Provider) ContextWindow() int {
	if p.Window > 0 {
		return p.Window
	}
	return 8000
}

func (p *Provider) CountTokens(text string) int {
	if p.TokensPerChar > 0 {
		return len(text) * p.TokensPerChar
	}
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// Chat replays the next scripted turn.
func (p *Provider) Chat(ctx context.Context, req *provider.ChatRequest) (<-chan models.ChatEvent, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	if p.next >= len(p.turns) {
		p.mu.Unlock()
		return nil, fmt.Errorf("mock provider: no scripted turn for call %d", len(p.requests))
	}
	turn := p.turns[p.next]
	p.next++
	p.mu.Unlock()

	if turn.Err != nil {
		return nil, turn.Err
	}

	events := make(chan models.ChatEvent)
	go p.replay(ctx, turn, events)
	return events, nil
}

func (p *Provider) replay(ctx context.Context, turn Turn, events chan<- models.ChatEvent) {
	defer close(events)

	emit := func(ev models.ChatEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(models.ChatEvent{Kind: models.ChatMessageStart}) {
		return
	}

	for _, chunk := range splitText(turn.Text, 12) {
		if !emit(models.ChatEvent{Kind: models.ChatContentDelta, Text: chunk}) {
			return
		}
	}

	if turn.StreamErr != nil {
		emit(models.ChatEvent{Kind: models.ChatError, Err: turn.StreamErr})
		return
	}

	for _, tc := range turn.ToolCalls {
		if !emit(models.ChatEvent{Kind: models.ChatToolUseStart, ToolCallID: tc.ID, ToolName: tc.Name}) {
			return
		}
		input := tc.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		if !emit(models.ChatEvent{Kind: models.ChatToolUseDelta, ToolCallID: tc.ID, Partial: string(input)}) {
			return
		}
		if !emit(models.ChatEvent{Kind: models.ChatToolUseEnd, ToolCallID: tc.ID, ToolName: tc.Name, Input: input}) {
			return
		}
	}

	if turn.Truncate {
		return
	}

	stop := turn.StopReason
	if stop == "" {
		if len(turn.ToolCalls) > 0 {
			stop = models.StopToolUse
		} else {
			stop = models.StopEndTurn
		}
	}
	usage := turn.Usage
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		usage = models.TokenUsage{InputTokens: 10, OutputTokens: 5}
	}
	emit(models.ChatEvent{Kind: models.ChatMessageEnd, StopReason: stop, Usage: usage})
}

func splitText(text string, size int) []string {
	if text == "" {
		return nil
	}
	var out []string
	for len(text) > size {
		out = append(out, text[:size])
		text = text[size:]
	}
	return append(out, text)
}
