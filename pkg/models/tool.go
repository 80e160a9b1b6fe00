package models

import "encoding/json"

// RiskLevel classifies how dangerous a tool is to execute.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ToolCall is a tool execution request emitted by the model.
type ToolCall struct {
	// ID is the provider-assigned identifier for the call.
	ID string `json:"id"`

	// Name is the tool ID being invoked.
	Name string `json:"name"`

	// Input is the raw JSON input for the tool.
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResult is the outcome of a tool execution, fed back to the model.
type ToolResult struct {
	// ToolCallID correlates the result with its ToolCall.
	ToolCallID string `json:"tool_call_id"`

	// Content is the serialized tool output, or the error message when
	// IsError is true.
	Content string `json:"content"`

	// IsError indicates the result represents a failure.
	IsError bool `json:"is_error,omitempty"`
}

// ToolDefinition is the provider-neutral description of a tool, produced by
// the registry for translation into each provider's native format.
type ToolDefinition struct {
	// Name is the tool ID exposed to the model.
	Name string `json:"name"`

	// Description tells the model what the tool does.
	Description string `json:"description"`

	// InputSchema is the JSON Schema for the tool's input. Discriminated
	// unions are flattened to a single object before reaching providers.
	InputSchema json.RawMessage `json:"input_schema"`
}
