// Package provider defines the model provider abstraction. Each provider
// adapts one vendor SDK to a common streaming interface so the runner never
// sees vendor-specific wire formats.
package provider

import (
	"context"

	"github.com/loomhq/loom/pkg/models"
)

// ChatRequest carries one model invocation.
type ChatRequest struct {
	// Messages is the conversation window, oldest first. System messages
	// are not included here; use System.
	Messages []models.Message

	// System is the assembled system prompt.
	System string

	// Tools are the tool definitions exposed to the model for this turn.
	Tools []models.ToolDefinition

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// Temperature, when non-nil, overrides the provider default.
	Temperature *float64

	// TraceID is threaded through for log correlation.
	TraceID string
}

// Provider is a streaming chat model. Chat returns an ordered event stream:
// message_start, then content and tool_use events, then exactly one
// message_end or error. The channel is closed when the stream ends. Callers
// that never observe message_end must treat the turn as incomplete.
type Provider interface {
	// Name returns the provider identifier, e.g. "anthropic".
	Name() string

	// Model returns the configured model identifier.
	Model() string

	// Chat starts a streaming completion. The returned channel is owned by
	// the provider and closed when the stream terminates. Errors that occur
	// before any event is produced are returned directly.
	Chat(ctx context.Context, req *ChatRequest) (<-chan models.ChatEvent, error)

	// CountTokens estimates the token count of the given text.
	CountTokens(text string) int

	// ContextWindow returns the model's context window in tokens.
	ContextWindow() int

	// SupportsToolUse reports whether the model can call tools.
	SupportsToolUse() bool
}

// contextWindows maps known model prefixes to their context window sizes.
// Unknown models fall back to DefaultContextWindow.
var contextWindows = []struct {
	prefix string
	tokens int
}{
	{"claude-3-5", 200000},
	{"claude-3", 200000},
	{"claude-sonnet", 200000},
	{"claude-opus", 200000},
	{"claude-haiku", 200000},
	{"gpt-4o", 128000},
	{"gpt-4-turbo", 128000},
	{"gpt-4", 8192},
	{"gpt-3.5-turbo", 16385},
	{"o1", 200000},
	{"o3", 200000},
}

// DefaultContextWindow is assumed for models not in the lookup table.
const DefaultContextWindow = 128000

// WindowFor returns the context window for a model identifier.
func WindowFor(model string) int {
	for _, w := range contextWindows {
		if len(model) >= len(w.prefix) && model[:len(w.prefix)] == w.prefix {
			return w.tokens
		}
	}
	return DefaultContextWindow
}
