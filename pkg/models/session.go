package models

import "time"

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	// SessionActive indicates the session accepts new messages.
	SessionActive SessionStatus = "active"

	// SessionClosed indicates the session is closed.
	SessionClosed SessionStatus = "closed"
)

// Session is an ordered, append-only conversation scoped to a project and
// optionally a contact.
type Session struct {
	// ID is the unique identifier for the session.
	ID string `json:"id"`

	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`

	// ContactID links the session to a contact, if any.
	ContactID string `json:"contact_id,omitempty"`

	// Channel records where the session originated (e.g., "telegram").
	Channel string `json:"channel,omitempty"`

	// Role is the agent role active for this session.
	Role string `json:"role,omitempty"`

	// Status is the session lifecycle state.
	Status SessionStatus `json:"status"`

	// Metadata holds arbitrary session metadata.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the session was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single entry in a session transcript. CreatedAt is monotonic
// per session; appends are serialized by the inbound processor.
type Message struct {
	// ID is the unique identifier for the message.
	ID string `json:"id"`

	// SessionID is the owning session.
	SessionID string `json:"session_id"`

	// Role indicates who authored the message.
	Role Role `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content,omitempty"`

	// ToolCalls contains tool execution requests from the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResults contains responses from executed tools.
	ToolResults []ToolResult `json:"tool_results,omitempty"`

	// TraceID links the message to the execution trace that produced it.
	TraceID string `json:"trace_id,omitempty"`

	// CreatedAt is when the message was appended.
	CreatedAt time.Time `json:"created_at"`
}
