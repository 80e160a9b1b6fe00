package models

import "time"

// MemoryEntry is a long-term memory record. Entries are ranked at retrieval
// time by similarity, importance, and recency decay.
type MemoryEntry struct {
	// ID is the unique identifier for the entry.
	ID string `json:"id"`

	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`

	// SessionID scopes the entry to a session, when set.
	SessionID string `json:"session_id,omitempty"`

	// Category groups entries (e.g., "fact", "preference", "compaction").
	Category string `json:"category"`

	// Content is the stored text.
	Content string `json:"content"`

	// Importance weights ranking, in [0, 1].
	Importance float64 `json:"importance"`

	// AccessCount tracks how often the entry was retrieved.
	AccessCount int `json:"access_count"`

	// LastAccessedAt is when the entry was last retrieved.
	LastAccessedAt time.Time `json:"last_accessed_at"`

	// CreatedAt is when the entry was stored.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt, when set, marks the entry for expiry.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Metadata holds arbitrary entry metadata.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Embedding is the entry's vector, absent when no embedder is
	// configured. Never serialized to API responses.
	Embedding []float32 `json:"-"`
}
