// Package tools implements the tool contract and registry: declaration,
// input validation, per-project RBAC, and approval routing.
package tools

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/loomhq/loom/pkg/models"
)

// Tool is an executable capability exposed to the agent.
//
// Implementations must be safe for concurrent use; the registry invokes
// Execute from many runs in parallel.
type Tool interface {
	// Name returns the tool ID used for model function calling.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// InputSchema returns the JSON Schema for the tool's input.
	InputSchema() json.RawMessage

	// RiskLevel classifies the tool for policy decisions.
	RiskLevel() models.RiskLevel

	// RequiresApproval reports whether execution must pass the approval gate.
	RequiresApproval() bool

	// SideEffects reports whether the tool mutates external state.
	SideEffects() bool

	// Execute runs the tool with schema-valid input.
	Execute(ctx context.Context, input json.RawMessage, ec *ExecContext) (*Result, error)
}

// DryRunner is implemented by tools that can simulate execution.
type DryRunner interface {
	// DryRun reports what Execute would do without side effects.
	DryRun(ctx context.Context, input json.RawMessage, ec *ExecContext) (*Result, error)
}

// Result is the output of a tool execution.
type Result struct {
	// Content is the tool's output, serialized for the model.
	Content string `json:"content"`

	// IsError indicates the result represents a failure the model should
	// reason about rather than a hard fault.
	IsError bool `json:"is_error,omitempty"`
}

// ExecContext carries the per-run authorization and identity context that
// tool resolution and execution run under.
type ExecContext struct {
	// ProjectID is the tenant the run belongs to.
	ProjectID string

	// SessionID is the session the run belongs to.
	SessionID string

	// TraceID is the execution trace identifier.
	TraceID string

	// AllowedTools is the project's RBAC allowlist of tool IDs.
	AllowedTools []string

	// Logger receives execution diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (ec *ExecContext) logger() *slog.Logger {
	if ec != nil && ec.Logger != nil {
		return ec.Logger
	}
	return slog.Default()
}

// allows reports whether the context's allowlist contains the tool ID.
func (ec *ExecContext) allows(toolID string) bool {
	if ec == nil {
		return false
	}
	for _, id := range ec.AllowedTools {
		if id == toolID {
			return true
		}
	}
	return false
}

// ApprovalGate routes tool calls that require human confirmation.
//
// Request is non-blocking: when the call is not already approved it creates
// a pending approval and returns approved=false with its ID.
type ApprovalGate interface {
	Request(ctx context.Context, toolID string, input json.RawMessage, ec *ExecContext) (approved bool, approvalID string, err error)
}

// UnroutedApprovalID is the sentinel returned when a tool requires approval
// but no gate is wired into the registry.
const UnroutedApprovalID = "approval-unrouted"
