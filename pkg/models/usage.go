package models

import "time"

// TokenUsage is the token consumption of one model call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns the combined token count.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Add accumulates another usage into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// UsageRecord is one append-only metering entry, aggregated for budget
// checks and billing views.
type UsageRecord struct {
	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`

	// Timestamp is when the usage occurred.
	Timestamp time.Time `json:"timestamp"`

	// Provider is the model provider name.
	Provider string `json:"provider"`

	// Model is the model identifier.
	Model string `json:"model"`

	// InputTokens is the prompt token count.
	InputTokens int `json:"input_tokens"`

	// OutputTokens is the completion token count.
	OutputTokens int `json:"output_tokens"`

	// CostUSD is the computed cost from the price table.
	CostUSD float64 `json:"cost_usd"`

	// TurnKey deduplicates appends for the same turn after crash-restart.
	TurnKey string `json:"turn_key,omitempty"`
}
