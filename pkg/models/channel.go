package models

import (
	"encoding/json"
	"time"
)

// IntegrationStatus is the state of a channel integration.
type IntegrationStatus string

const (
	IntegrationActive   IntegrationStatus = "active"
	IntegrationDisabled IntegrationStatus = "disabled"
)

// ChannelIntegration configures one messaging channel for a project. At most
// one integration exists per (project, provider). Config stores secret keys,
// never secret values; adapters fetch plaintext through the secret service.
type ChannelIntegration struct {
	// ID is the unique identifier for the integration.
	ID string `json:"id"`

	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`

	// Provider is the channel provider name ("telegram", "slack", ...).
	Provider string `json:"provider"`

	// Config is the provider-specific configuration variant.
	Config json.RawMessage `json:"config"`

	// Status is the integration state.
	Status IntegrationStatus `json:"status"`

	// UpdatedAt is when the integration was last modified. Adapter caches
	// key on this to pick up config changes.
	UpdatedAt time.Time `json:"updated_at"`
}

// InboundMessage is a channel-agnostic parsed incoming message.
type InboundMessage struct {
	// ProjectID is the target project.
	ProjectID string `json:"project_id"`

	// Provider is the channel the message arrived on.
	Provider string `json:"provider"`

	// SenderID is the channel-specific sender identifier.
	SenderID string `json:"sender_id"`

	// SenderName is the display name, if the channel supplies one.
	SenderName string `json:"sender_name,omitempty"`

	// ConversationID is the channel-specific conversation identifier.
	ConversationID string `json:"conversation_id"`

	// Text is the message body.
	Text string `json:"text"`

	// ReceivedAt is when the message was received.
	ReceivedAt time.Time `json:"received_at"`
}

// OutboundMessage is a channel-agnostic reply to deliver through an adapter.
type OutboundMessage struct {
	// ConversationID is the channel-specific conversation identifier.
	ConversationID string `json:"conversation_id"`

	// Text is the message body.
	Text string `json:"text"`
}
