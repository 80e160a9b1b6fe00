package models

import "encoding/json"

// StreamEventType identifies runner events streamed to subscribers.
type StreamEventType string

const (
	StreamAgentStart    StreamEventType = "agent_start"
	StreamContentDelta  StreamEventType = "content_delta"
	StreamToolUseStart  StreamEventType = "tool_use_start"
	StreamToolResult    StreamEventType = "tool_result"
	StreamTurnComplete  StreamEventType = "turn_complete"
	StreamAgentComplete StreamEventType = "agent_complete"
	StreamError         StreamEventType = "error"
)

// AgentStreamEvent is one element of the runner's subscriber stream.
//
// Ordering within a run: agent_start, then per turn content deltas before
// any tool use, turn_complete exactly once per model turn, error at most
// once, and agent_complete exactly once at the terminal status.
type AgentStreamEvent struct {
	// Type identifies the event.
	Type StreamEventType `json:"type"`

	// TraceID is the run's trace identifier.
	TraceID string `json:"trace_id,omitempty"`

	// Turn is the 1-based turn number, where applicable.
	Turn int `json:"turn,omitempty"`

	// Text is the delta text for content_delta events.
	Text string `json:"text,omitempty"`

	// ToolCallID and ToolName are set on tool_use_start / tool_result.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	// ToolResult is set on tool_result events.
	ToolResult *ToolResult `json:"tool_result,omitempty"`

	// Response is the joined text of the final assistant message, set on
	// agent_complete.
	Response string `json:"response,omitempty"`

	// Usage is the accumulated run usage, set on agent_complete.
	Usage TokenUsage `json:"usage,omitempty"`

	// Status is the terminal trace status, set on agent_complete.
	Status TraceStatus `json:"status,omitempty"`

	// ErrorCode and ErrorMessage are set on error events.
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Data carries event-specific extras (approval IDs, failover details).
	Data json.RawMessage `json:"data,omitempty"`
}
