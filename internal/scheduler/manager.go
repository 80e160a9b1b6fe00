package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

// cronParser accepts standard 5-field expressions plus @every descriptors.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// nextFiring returns the first firing of expr strictly after from.
func nextFiring(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fault.Wrap(fault.CodeValidation, err, "invalid cron expression %q", expr)
	}
	return sched.Next(from), nil
}

// ValidateCron parses expr and returns its next three firings.
func ValidateCron(expr string, from time.Time) ([]time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fault.Wrap(fault.CodeValidation, err, "invalid cron expression %q", expr)
	}
	firings := make([]time.Time, 0, 3)
	t := from
	for i := 0; i < 3; i++ {
		t = sched.Next(t)
		firings = append(firings, t)
	}
	return firings, nil
}

// ManagerConfig configures a task manager.
type ManagerConfig struct {
	Logger *slog.Logger

	// Now overrides the clock. For tests.
	Now func() time.Time
}

// Manager owns the scheduled-task lifecycle.
type Manager struct {
	tasks  TaskStore
	runs   RunStore
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a task manager over the given stores.
func NewManager(tasks TaskStore, runs RunStore, cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{tasks: tasks, runs: runs, logger: cfg.Logger, now: cfg.Now}
}

// TaskInput carries the caller-supplied fields of a new task.
type TaskInput struct {
	ProjectID      string
	Name           string
	CronExpression string
	TaskPayload    json.RawMessage
	Budgets        models.TaskBudgets
	MaxRuns        *int
	ExpiresAt      *time.Time
}

func (in *TaskInput) validate() error {
	if in.ProjectID == "" {
		return fault.New(fault.CodeValidation, "task project_id is required")
	}
	if in.Name == "" {
		return fault.New(fault.CodeValidation, "task name is required")
	}
	if _, err := cronParser.Parse(in.CronExpression); err != nil {
		return fault.Wrap(fault.CodeValidation, err, "invalid cron expression %q", in.CronExpression)
	}
	return nil
}

// CreateTask creates a static task. It is active immediately and its first
// firing is computed from the cron expression.
func (m *Manager) CreateTask(ctx context.Context, in TaskInput) (*models.ScheduledTask, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := m.now()
	next, err := nextFiring(in.CronExpression, now)
	if err != nil {
		return nil, err
	}
	task := &models.ScheduledTask{
		ID:             "task_" + uuid.NewString(),
		ProjectID:      in.ProjectID,
		Name:           in.Name,
		CronExpression: in.CronExpression,
		TaskPayload:    in.TaskPayload,
		Origin:         models.TaskOriginStatic,
		Status:         models.TaskActive,
		Budgets:        in.Budgets,
		MaxRuns:        in.MaxRuns,
		ExpiresAt:      in.ExpiresAt,
		NextRunAt:      &next,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	m.logger.Info("task created",
		"task_id", task.ID, "project_id", task.ProjectID, "next_run_at", next)
	return task, nil
}

// ProposeTask creates an agent-proposed task. It stays in proposed until a
// human approves it; no firing is scheduled.
func (m *Manager) ProposeTask(ctx context.Context, in TaskInput) (*models.ScheduledTask, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := m.now()
	task := &models.ScheduledTask{
		ID:             "task_" + uuid.NewString(),
		ProjectID:      in.ProjectID,
		Name:           in.Name,
		CronExpression: in.CronExpression,
		TaskPayload:    in.TaskPayload,
		Origin:         models.TaskOriginAgentProposed,
		Status:         models.TaskProposed,
		Budgets:        in.Budgets,
		MaxRuns:        in.MaxRuns,
		ExpiresAt:      in.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	m.logger.Info("task proposed", "task_id", task.ID, "project_id", task.ProjectID)
	return task, nil
}

func (m *Manager) load(ctx context.Context, id string) (*models.ScheduledTask, error) {
	task, err := m.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fault.New(fault.CodeTaskNotFound, "task %q not found", id)
	}
	return task, nil
}

// ApproveTask transitions a proposed task to active and schedules its first
// firing.
func (m *Manager) ApproveTask(ctx context.Context, id, by string) (*models.ScheduledTask, error) {
	task, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskProposed {
		return nil, fault.New(fault.CodeValidation,
			"cannot approve task in status %q, must be proposed", task.Status)
	}
	next, err := nextFiring(task.CronExpression, m.now())
	if err != nil {
		return nil, err
	}
	task.Status = models.TaskActive
	task.ApprovedBy = by
	task.NextRunAt = &next
	if err := m.tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	m.logger.Info("task approved", "task_id", id, "approved_by", by, "next_run_at", next)
	return task, nil
}

// RejectTask transitions a proposed task to rejected.
func (m *Manager) RejectTask(ctx context.Context, id, by string) (*models.ScheduledTask, error) {
	task, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskProposed {
		return nil, fault.New(fault.CodeValidation,
			"cannot reject task in status %q, must be proposed", task.Status)
	}
	task.Status = models.TaskRejected
	if err := m.tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	m.logger.Info("task rejected", "task_id", id, "rejected_by", by)
	return task, nil
}

// PauseTask transitions an active task to paused and clears its schedule.
func (m *Manager) PauseTask(ctx context.Context, id string) (*models.ScheduledTask, error) {
	task, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskActive {
		return nil, fault.New(fault.CodeValidation,
			"cannot pause task in status %q, must be active", task.Status)
	}
	task.Status = models.TaskPaused
	task.NextRunAt = nil
	if err := m.tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	m.logger.Info("task paused", "task_id", id)
	return task, nil
}

// ResumeTask transitions a paused task back to active and recomputes the
// next firing.
func (m *Manager) ResumeTask(ctx context.Context, id string) (*models.ScheduledTask, error) {
	task, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskPaused {
		return nil, fault.New(fault.CodeValidation,
			"cannot resume task in status %q, must be paused", task.Status)
	}
	next, err := nextFiring(task.CronExpression, m.now())
	if err != nil {
		return nil, err
	}
	task.Status = models.TaskActive
	task.NextRunAt = &next
	if err := m.tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	m.logger.Info("task resumed", "task_id", id, "next_run_at", next)
	return task, nil
}

// GetTask fetches one task.
func (m *Manager) GetTask(ctx context.Context, id string) (*models.ScheduledTask, error) {
	return m.load(ctx, id)
}

// ListTasks returns a project's tasks, newest first.
func (m *Manager) ListTasks(ctx context.Context, projectID string) ([]*models.ScheduledTask, error) {
	return m.tasks.ListByProject(ctx, projectID)
}

// DeleteTask removes a task. Runs are kept for audit.
func (m *Manager) DeleteTask(ctx context.Context, id string) error {
	if _, err := m.load(ctx, id); err != nil {
		return err
	}
	return m.tasks.Delete(ctx, id)
}

// ListRuns returns a task's runs, newest first.
func (m *Manager) ListRuns(ctx context.Context, taskID string) ([]*models.ScheduledTaskRun, error) {
	return m.runs.ListByTask(ctx, taskID)
}
