package models

import "time"

// Secret is an envelope-encrypted, project-scoped secret record. Plaintext
// never leaves the secret service.
type Secret struct {
	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`

	// Key is the secret name, unique per project.
	Key string `json:"key"`

	// Ciphertext is the AEAD-encrypted value.
	Ciphertext []byte `json:"-"`

	// IV is the per-record nonce.
	IV []byte `json:"-"`

	// AuthTag is the AEAD authentication tag.
	AuthTag []byte `json:"-"`

	// Description is optional operator-facing metadata.
	Description string `json:"description,omitempty"`

	// CreatedAt is when the secret was stored.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the secret was last rotated.
	UpdatedAt time.Time `json:"updated_at"`
}

// SecretMetadata is what listing returns: everything except the value.
type SecretMetadata struct {
	ProjectID   string    `json:"project_id"`
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
