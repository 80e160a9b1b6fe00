package models

import "time"

// Project is the tenant boundary. Every other entity is owned by exactly one
// project, and a project can only be deleted once all dependents are removed.
type Project struct {
	// ID is the unique identifier for the project.
	ID string `json:"id"`

	// Name is a human-readable name.
	Name string `json:"name"`

	// Description provides details about the project.
	Description string `json:"description,omitempty"`

	// Environment labels the deployment environment (e.g., "production").
	Environment string `json:"environment,omitempty"`

	// Owner identifies who owns the project.
	Owner string `json:"owner,omitempty"`

	// Tags holds arbitrary labels.
	Tags []string `json:"tags,omitempty"`

	// AgentConfig is the versioned agent configuration for the project.
	AgentConfig AgentConfig `json:"agent_config"`

	// CreatedAt is when the project was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the project was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// AgentConfig configures how the agent runs for a project.
type AgentConfig struct {
	// ProjectID must match the owning project's ID.
	ProjectID string `json:"project_id"`

	// AgentRole describes the agent's role, included in the prompt context.
	AgentRole string `json:"agent_role,omitempty"`

	// Provider selects the primary model provider.
	Provider ProviderConfig `json:"provider"`

	// FallbackProvider, when set, receives exactly one retry after a
	// failover-eligible primary error.
	FallbackProvider *ProviderConfig `json:"fallback_provider,omitempty"`

	// Failover controls when the fallback provider is used.
	Failover FailoverConfig `json:"failover"`

	// AllowedTools is the set of tool IDs the agent may invoke.
	AllowedTools []string `json:"allowed_tools"`

	// MemoryConfig configures context fitting and long-term memory.
	MemoryConfig MemoryConfig `json:"memory_config"`

	// CostConfig configures budgets and rate limits.
	CostConfig CostConfig `json:"cost_config"`

	// MaxTurnsPerSession bounds the agent loop.
	MaxTurnsPerSession int `json:"max_turns_per_session"`

	// MaxConcurrentSessions bounds parallel runs for the project.
	MaxConcurrentSessions int `json:"max_concurrent_sessions,omitempty"`
}

// ProviderConfig identifies a model provider and model.
type ProviderConfig struct {
	// Provider is the provider name ("anthropic", "openai", "mock").
	Provider string `json:"provider"`

	// Model is the provider-specific model identifier.
	Model string `json:"model"`

	// APIKeyEnvVar names the environment variable holding the API key.
	APIKeyEnvVar string `json:"api_key_env_var,omitempty"`
}

// FailoverConfig controls the single-retry fallback behavior.
type FailoverConfig struct {
	// OnRateLimit retries on RATE_LIMIT_EXCEEDED errors.
	OnRateLimit bool `json:"on_rate_limit"`

	// OnServerError retries on provider errors with status >= 500.
	OnServerError bool `json:"on_server_error"`

	// OnTimeout retries on TIMEOUT errors.
	OnTimeout bool `json:"on_timeout"`

	// TimeoutMs is the per-call provider timeout in milliseconds.
	TimeoutMs int `json:"timeout_ms,omitempty"`

	// MaxRetries bounds provider-level retries before failover.
	MaxRetries int `json:"max_retries,omitempty"`
}

// MemoryConfig configures the memory manager.
type MemoryConfig struct {
	LongTerm      LongTermMemoryConfig `json:"long_term"`
	ContextWindow ContextWindowConfig  `json:"context_window"`
}

// LongTermMemoryConfig configures long-term memory retrieval and decay.
type LongTermMemoryConfig struct {
	// Enabled turns long-term memory on.
	Enabled bool `json:"enabled"`

	// MaxEntries caps stored entries per project.
	MaxEntries int `json:"max_entries,omitempty"`

	// RetrievalTopK is the number of entries returned per retrieval.
	RetrievalTopK int `json:"retrieval_top_k,omitempty"`

	// EmbeddingProvider names the embedding backend ("openai", "").
	// Empty disables vector retrieval; text entries are still stored.
	EmbeddingProvider string `json:"embedding_provider,omitempty"`

	// DecayEnabled applies recency decay to ranking.
	DecayEnabled bool `json:"decay_enabled,omitempty"`

	// DecayHalfLifeDays is the recency-decay half-life.
	DecayHalfLifeDays float64 `json:"decay_half_life_days,omitempty"`
}

// ContextWindowConfig configures context fitting before each model call.
type ContextWindowConfig struct {
	// ReserveTokens is headroom kept free for the model response.
	ReserveTokens int `json:"reserve_tokens"`

	// PruningStrategy is "turn-based" or "token-based".
	PruningStrategy string `json:"pruning_strategy"`

	// MaxTurnsInContext caps complete turns retained under turn-based pruning.
	MaxTurnsInContext int `json:"max_turns_in_context,omitempty"`

	// Compaction configures summarization of pruned history.
	Compaction CompactionConfig `json:"compaction"`
}

// CompactionConfig controls history summarization when pruning drops turns.
type CompactionConfig struct {
	// Enabled turns compaction on.
	Enabled bool `json:"enabled"`

	// Threshold is the fraction of prior turns that must be dropped before a
	// compaction entry is produced. Defaults to 0.5.
	Threshold float64 `json:"threshold,omitempty"`

	// MemoryFlushBeforeCompaction promotes salient facts to long-term memory
	// before summarizing. Skipped silently when long-term memory is disabled.
	MemoryFlushBeforeCompaction bool `json:"memory_flush_before_compaction,omitempty"`
}

// CostConfig configures budgets and rate limits for a project.
type CostConfig struct {
	DailyBudgetUSD       float64 `json:"daily_budget_usd"`
	MonthlyBudgetUSD     float64 `json:"monthly_budget_usd"`
	MaxTokensPerTurn     int     `json:"max_tokens_per_turn"`
	MaxTurnsPerSession   int     `json:"max_turns_per_session,omitempty"`
	MaxToolCallsPerTurn  int     `json:"max_tool_calls_per_turn"`
	AlertThresholdPct    float64 `json:"alert_threshold_percent,omitempty"`
	HardLimitPct         float64 `json:"hard_limit_percent,omitempty"`
	MaxRequestsPerMinute int     `json:"max_requests_per_minute,omitempty"`
	MaxRequestsPerHour   int     `json:"max_requests_per_hour,omitempty"`
}
