package models

import "time"

// Contact is a person the system talks to on some channel. Channel
// identifiers are unique per project per channel.
type Contact struct {
	// ID is the unique identifier for the contact.
	ID string `json:"id"`

	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`

	// Name is the display name.
	Name string `json:"name"`

	// Phone is the phone number, if known.
	Phone string `json:"phone,omitempty"`

	// Email is the email address, if known.
	Email string `json:"email,omitempty"`

	// TelegramID is the Telegram user identifier, if known.
	TelegramID string `json:"telegram_id,omitempty"`

	// SlackID is the Slack user identifier, if known.
	SlackID string `json:"slack_id,omitempty"`

	// Language is the contact's preferred language code.
	Language string `json:"language,omitempty"`

	// Metadata holds arbitrary contact metadata.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is when the contact was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the contact was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}
