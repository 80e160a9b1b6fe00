package scheduler

import (
	"context"
	"encoding/json"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/internal/prompt"
	"github.com/loomhq/loom/internal/runner"
	"github.com/loomhq/loom/pkg/models"
)

// ChatRunner is the slice of the agent host the executor needs.
type ChatRunner interface {
	RunChat(ctx context.Context, req *runner.ChatRequest) (*runner.ChatResult, error)
}

// taskPayload is the agent instruction carried by a scheduled task.
type taskPayload struct {
	Message   string `json:"message"`
	ContactID string `json:"contact_id,omitempty"`
	Language  string `json:"language,omitempty"`
}

// ChatExecutor drives the agent host for task firings. Each task runs in its
// own long-lived session so consecutive firings share conversational state.
type ChatExecutor struct {
	runner ChatRunner
}

// NewChatExecutor creates an executor over the agent host.
func NewChatExecutor(r ChatRunner) *ChatExecutor {
	return &ChatExecutor{runner: r}
}

// SessionIDFor returns the deterministic session a task's runs append to.
func SessionIDFor(taskID string) string {
	return "task-" + taskID
}

func (e *ChatExecutor) RunScheduledTask(ctx context.Context, task *models.ScheduledTask) (*RunResult, error) {
	var payload taskPayload
	if len(task.TaskPayload) > 0 {
		if err := json.Unmarshal(task.TaskPayload, &payload); err != nil {
			return nil, fault.Wrap(fault.CodeValidation, err, "task %q payload is not valid JSON", task.ID)
		}
	}
	if payload.Message == "" {
		return nil, fault.New(fault.CodeValidation, "task %q payload has no message", task.ID)
	}

	res, err := e.runner.RunChat(ctx, &runner.ChatRequest{
		ProjectID: task.ProjectID,
		SessionID: SessionIDFor(task.ID),
		ContactID: payload.ContactID,
		Message:   payload.Message,
		Runtime: prompt.RuntimeContext{
			Channel:  "scheduler",
			Language: payload.Language,
		},
		// The run context already carries the task's timeoutMs deadline.
		Timeout: -1,
	})
	if res == nil {
		return nil, err
	}

	out := &RunResult{Response: res.Response}
	if tr := res.Trace; tr != nil {
		out.TraceID = tr.ID
		out.TokensUsed = tr.TotalTokensUsed
		out.CostUSD = tr.TotalCostUSD
	}
	if err != nil {
		return out, err
	}

	// The project-level guard meters daily budgets; per-run caps are the
	// task's own contract.
	if limit := task.Budgets.BudgetPerRunUSD; limit > 0 && out.CostUSD > limit {
		return out, fault.New(fault.CodeBudgetExceeded,
			"task %q run cost $%.4f exceeds per-run budget $%.4f", task.ID, out.CostUSD, limit)
	}
	return out, nil
}
