package models

import (
	"encoding/json"
	"time"
)

// ApprovalStatus is the state of an approval request. pending is the only
// non-terminal state.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval is a pending human confirmation for a high-risk tool call.
type Approval struct {
	// ID is the unique identifier for the approval.
	ID string `json:"id"`

	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`

	// ToolID is the tool awaiting approval.
	ToolID string `json:"tool_id"`

	// Input is the tool input the model requested.
	Input json.RawMessage `json:"input,omitempty"`

	// SessionID is the session the request originated from.
	SessionID string `json:"session_id,omitempty"`

	// Status is pending, approved, or rejected.
	Status ApprovalStatus `json:"status"`

	// RequestedAt is when the approval was created.
	RequestedAt time.Time `json:"requested_at"`

	// ResolvedAt is when the approval was approved or rejected.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	// ResolvedBy records who resolved the approval.
	ResolvedBy string `json:"resolved_by,omitempty"`

	// Note is an optional resolution note.
	Note string `json:"note,omitempty"`

	// ExpiresAt, when non-zero, lets stale requests be pruned.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}
