package models

import (
	"encoding/json"
	"time"
)

// TraceStatus is the terminal (or in-flight) status of an agent run.
type TraceStatus string

const (
	TraceRunning              TraceStatus = "running"
	TraceCompleted            TraceStatus = "completed"
	TraceFailed               TraceStatus = "failed"
	TraceBudgetExceeded       TraceStatus = "budget_exceeded"
	TraceMaxTurns             TraceStatus = "max_turns"
	TraceAborted              TraceStatus = "aborted"
	TraceHumanApprovalPending TraceStatus = "human_approval_pending"
)

// TraceEventType identifies the kind of a trace event.
type TraceEventType string

const (
	TraceEventLLMRequest        TraceEventType = "llm_request"
	TraceEventLLMResponse       TraceEventType = "llm_response"
	TraceEventToolCall          TraceEventType = "tool_call"
	TraceEventToolResult        TraceEventType = "tool_result"
	TraceEventMemoryRetrieval   TraceEventType = "memory_retrieval"
	TraceEventCompaction        TraceEventType = "compaction"
	TraceEventCostAlert         TraceEventType = "cost_alert"
	TraceEventFailover          TraceEventType = "failover"
	TraceEventApprovalRequested TraceEventType = "approval_requested"
	TraceEventError             TraceEventType = "error"
)

// TraceEvent is one append-only entry in an execution trace.
type TraceEvent struct {
	// Type identifies the event kind.
	Type TraceEventType `json:"type"`

	// Turn is the 1-based turn number the event belongs to.
	Turn int `json:"turn,omitempty"`

	// Timestamp is when the event was recorded.
	Timestamp time.Time `json:"timestamp"`

	// Data holds the event payload, keyed by event-specific fields.
	Data json.RawMessage `json:"data,omitempty"`
}

// PromptSnapshot is the immutable identity of the prompt inputs used by a
// run. Replays and audits reproduce the exact inputs from it.
type PromptSnapshot struct {
	IdentityLayerID      string `json:"identity_layer_id,omitempty"`
	IdentityVersion      int    `json:"identity_version,omitempty"`
	InstructionsLayerID  string `json:"instructions_layer_id,omitempty"`
	InstructionsVersion  int    `json:"instructions_version,omitempty"`
	SafetyLayerID        string `json:"safety_layer_id,omitempty"`
	SafetyVersion        int    `json:"safety_version,omitempty"`
	ToolDocsHash         string `json:"tool_docs_hash,omitempty"`
	RuntimeContextHash   string `json:"runtime_context_hash,omitempty"`
}

// ExecutionTrace is the fully reconstructible record of one agent run.
type ExecutionTrace struct {
	// ID is the unique identifier for the trace.
	ID string `json:"id"`

	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`

	// SessionID is the session the run belongs to.
	SessionID string `json:"session_id"`

	// PromptSnapshot captures the prompt inputs at run start.
	PromptSnapshot PromptSnapshot `json:"prompt_snapshot"`

	// Events is the linearly ordered, append-only event log.
	Events []TraceEvent `json:"events"`

	// TurnCount is the number of model turns executed.
	TurnCount int `json:"turn_count"`

	// TotalDurationMs is the wall-clock duration of the run.
	TotalDurationMs int64 `json:"total_duration_ms"`

	// TotalTokensUsed is the sum of input and output tokens across turns.
	TotalTokensUsed int `json:"total_tokens_used"`

	// TotalCostUSD is the accumulated cost of the run.
	TotalCostUSD float64 `json:"total_cost_usd"`

	// Status is the run status.
	Status TraceStatus `json:"status"`

	// CreatedAt is when the run started.
	CreatedAt time.Time `json:"created_at"`

	// CompletedAt is when the run reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AddEvent appends an event to the trace, stamping the timestamp if unset.
func (t *ExecutionTrace) AddEvent(ev TraceEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	t.Events = append(t.Events, ev)
}

// EventData marshals v for use as a TraceEvent payload. Marshal failures
// degrade to a JSON string of the error rather than dropping the event.
func EventData(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}
	return b
}
