package models

import (
	"encoding/json"
	"time"
)

// TaskOrigin records who created a scheduled task.
type TaskOrigin string

const (
	// TaskOriginStatic marks tasks created directly by an operator or API.
	TaskOriginStatic TaskOrigin = "static"

	// TaskOriginAgentProposed marks tasks proposed by an agent; these must be
	// approved before they become active.
	TaskOriginAgentProposed TaskOrigin = "agent_proposed"
)

// TaskStatus is the lifecycle state of a scheduled task.
type TaskStatus string

const (
	TaskProposed  TaskStatus = "proposed"
	TaskActive    TaskStatus = "active"
	TaskPaused    TaskStatus = "paused"
	TaskRejected  TaskStatus = "rejected"
	TaskCompleted TaskStatus = "completed"
	TaskExpired   TaskStatus = "expired"
)

// TaskBudgets bounds a single scheduled run.
type TaskBudgets struct {
	// MaxRetries is the number of retry attempts on transient failure.
	MaxRetries int `json:"max_retries,omitempty"`

	// TimeoutMs is the hard per-run timeout in milliseconds.
	TimeoutMs int `json:"timeout_ms,omitempty"`

	// BudgetPerRunUSD caps spend for one run.
	BudgetPerRunUSD float64 `json:"budget_per_run_usd,omitempty"`

	// MaxDurationMinutes caps wall time for one run.
	MaxDurationMinutes int `json:"max_duration_minutes,omitempty"`

	// MaxTurns caps agent turns for one run.
	MaxTurns int `json:"max_turns,omitempty"`
}

// ScheduledTask is a cron-driven agent job owned by a project.
type ScheduledTask struct {
	// ID is the unique identifier for the task.
	ID string `json:"id"`

	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`

	// Name is a human-readable name.
	Name string `json:"name"`

	// CronExpression is the schedule in standard 5-field cron syntax.
	CronExpression string `json:"cron_expression"`

	// TaskPayload is the message delivered to the agent on each firing.
	TaskPayload json.RawMessage `json:"task_payload,omitempty"`

	// Origin records whether the task is static or agent-proposed.
	Origin TaskOrigin `json:"origin"`

	// Status is the lifecycle state.
	Status TaskStatus `json:"status"`

	// ApprovedBy records who approved an agent-proposed task.
	ApprovedBy string `json:"approved_by,omitempty"`

	// Budgets bounds each run.
	Budgets TaskBudgets `json:"budgets"`

	// MaxRuns, when non-nil, completes the task after this many runs.
	MaxRuns *int `json:"max_runs,omitempty"`

	// RunCount is the number of runs executed so far.
	RunCount int `json:"run_count"`

	// LastRunAt is when the most recent run started.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// NextRunAt is the next scheduled firing. Non-nil iff status is active.
	NextRunAt *time.Time `json:"next_run_at,omitempty"`

	// ExpiresAt, when non-nil, expires the task at this time.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the task was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// RunStatus is the state of one scheduled task run.
type RunStatus string

const (
	RunPending        RunStatus = "pending"
	RunRunning        RunStatus = "running"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunTimeout        RunStatus = "timeout"
	RunBudgetExceeded RunStatus = "budget_exceeded"
)

// ScheduledTaskRun records one execution of a scheduled task. Retries update
// the same run record; a fresh run is created only on a new firing.
type ScheduledTaskRun struct {
	// ID is the unique identifier for the run.
	ID string `json:"id"`

	// TaskID is the owning task.
	TaskID string `json:"task_id"`

	// Status is the run state.
	Status RunStatus `json:"status"`

	// StartedAt is when execution began.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when execution finished.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// DurationMs is CompletedAt minus StartedAt.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// TokensUsed is the total tokens consumed by the run.
	TokensUsed int `json:"tokens_used,omitempty"`

	// CostUSD is the cost of the run.
	CostUSD float64 `json:"cost_usd,omitempty"`

	// TraceID links to the execution trace.
	TraceID string `json:"trace_id,omitempty"`

	// Result is the final agent response, if any.
	Result string `json:"result,omitempty"`

	// ErrorMessage records the failure reason, if any.
	ErrorMessage string `json:"error_message,omitempty"`

	// RetryCount is the number of retries attributed to this run.
	RetryCount int `json:"retry_count"`
}
