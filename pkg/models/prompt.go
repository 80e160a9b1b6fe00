package models

import "time"

// LayerKind identifies one of the three prompt layer kinds.
type LayerKind string

const (
	LayerIdentity     LayerKind = "identity"
	LayerInstructions LayerKind = "instructions"
	LayerSafety       LayerKind = "safety"
)

// PromptLayer is one versioned slice of a project's system prompt. Each
// project has at most one active layer per kind; activating a new version
// deactivates the prior one.
type PromptLayer struct {
	// ID is the unique identifier for the layer.
	ID string `json:"id"`

	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`

	// Kind is identity, instructions, or safety.
	Kind LayerKind `json:"kind"`

	// Version increments with each new layer of the same kind.
	Version int `json:"version"`

	// Content is the prompt text.
	Content string `json:"content"`

	// Active marks the layer currently used for prompt assembly.
	Active bool `json:"active"`

	// CreatedAt is when the layer was created.
	CreatedAt time.Time `json:"created_at"`
}
