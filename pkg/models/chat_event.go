package models

import "encoding/json"

// ChatEventKind discriminates provider stream events.
type ChatEventKind string

const (
	ChatMessageStart ChatEventKind = "message_start"
	ChatContentDelta ChatEventKind = "content_delta"
	ChatToolUseStart ChatEventKind = "tool_use_start"
	ChatToolUseDelta ChatEventKind = "tool_use_delta"
	ChatToolUseEnd   ChatEventKind = "tool_use_end"
	ChatMessageEnd   ChatEventKind = "message_end"
	ChatError        ChatEventKind = "error"
)

// StopReason explains why a model turn ended.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// ChatEvent is one element of a provider's lazy ordered output stream.
// Consumers dispatch on Kind; only the fields for that kind are set.
type ChatEvent struct {
	// Kind discriminates the event.
	Kind ChatEventKind `json:"kind"`

	// Text is the delta text for content_delta events.
	Text string `json:"text,omitempty"`

	// ToolCallID identifies the tool call for tool_use_* events.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolName is the tool being called for tool_use_start/end events.
	ToolName string `json:"tool_name,omitempty"`

	// Partial is accumulated partial input JSON for tool_use_delta events.
	Partial string `json:"partial,omitempty"`

	// Input is the complete tool input for tool_use_end events.
	Input json.RawMessage `json:"input,omitempty"`

	// StopReason is set on message_end events.
	StopReason StopReason `json:"stop_reason,omitempty"`

	// Usage is set on message_end events.
	Usage TokenUsage `json:"usage,omitempty"`

	// Err is set on error events; the stream terminates after it.
	Err error `json:"-"`
}
