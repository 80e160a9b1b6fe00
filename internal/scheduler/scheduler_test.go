package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/internal/metrics"
	"github.com/loomhq/loom/internal/queue"
	"github.com/loomhq/loom/pkg/models"
)

func testManager() *Manager {
	return NewManager(NewMemoryTaskStore(), NewMemoryRunStore(), ManagerConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestValidateCron(t *testing.T) {
	from := time.Date(2026, 8, 25, 11, 59, 30, 0, time.UTC)
	firings, err := ValidateCron("0 12 * * *", from)
	if err != nil {
		t.Fatalf("ValidateCron: %v", err)
	}
	if len(firings) != 3 {
		t.Fatalf("firings = %d, want 3", len(firings))
	}
	want := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	for i, firing := range firings {
		if !firing.Equal(want.Add(time.Duration(i) * 24 * time.Hour)) {
			t.Errorf("firing[%d] = %v", i, firing)
		}
	}
	for i := 1; i < len(firings); i++ {
		if !firings[i].After(firings[i-1]) {
			t.Errorf("firings not strictly increasing: %v", firings)
		}
	}
}

func TestValidateCronInvalid(t *testing.T) {
	for _, expr := range []string{"", "not a cron", "99 99 * * *", "* * * *"} {
		_, err := ValidateCron(expr, time.Now())
		if fault.CodeOf(err) != fault.CodeValidation {
			t.Errorf("ValidateCron(%q) code = %v, want VALIDATION_ERROR", expr, fault.CodeOf(err))
		}
	}
}

func TestCreateTaskActiveWithNextRun(t *testing.T) {
	m := testManager()
	task, err := m.CreateTask(context.Background(), TaskInput{
		ProjectID:      "proj-1",
		Name:           "daily digest",
		CronExpression: "0 9 * * *",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Status != models.TaskActive {
		t.Errorf("status = %q, want active", task.Status)
	}
	if task.Origin != models.TaskOriginStatic {
		t.Errorf("origin = %q, want static", task.Origin)
	}
	if task.NextRunAt == nil || !task.NextRunAt.After(time.Now()) {
		t.Errorf("next_run_at = %v, want a future time", task.NextRunAt)
	}
}

func TestProposeTaskHasNoSchedule(t *testing.T) {
	m := testManager()
	task, err := m.ProposeTask(context.Background(), TaskInput{
		ProjectID:      "proj-1",
		Name:           "cleanup",
		CronExpression: "*/5 * * * *",
	})
	if err != nil {
		t.Fatalf("ProposeTask: %v", err)
	}
	if task.Status != models.TaskProposed {
		t.Errorf("status = %q, want proposed", task.Status)
	}
	if task.NextRunAt != nil {
		t.Errorf("proposed task must not be scheduled, next_run_at = %v", task.NextRunAt)
	}
	if task.ApprovedBy != "" {
		t.Errorf("approved_by = %q, want empty", task.ApprovedBy)
	}
}

func TestApproveRejectLifecycle(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	proposed, _ := m.ProposeTask(ctx, TaskInput{
		ProjectID: "proj-1", Name: "a", CronExpression: "0 * * * *",
	})

	approved, err := m.ApproveTask(ctx, proposed.ID, "admin@example.com")
	if err != nil {
		t.Fatalf("ApproveTask: %v", err)
	}
	if approved.Status != models.TaskActive || approved.ApprovedBy != "admin@example.com" {
		t.Errorf("task = %+v", approved)
	}
	if approved.NextRunAt == nil {
		t.Error("approval must schedule the first firing")
	}

	// A second approval hits an active task and must fail.
	if _, err := m.ApproveTask(ctx, proposed.ID, "admin@example.com"); fault.CodeOf(err) != fault.CodeValidation {
		t.Errorf("double approve code = %v, want VALIDATION_ERROR", fault.CodeOf(err))
	}

	other, _ := m.ProposeTask(ctx, TaskInput{
		ProjectID: "proj-1", Name: "b", CronExpression: "0 * * * *",
	})
	rejected, err := m.RejectTask(ctx, other.ID, "admin@example.com")
	if err != nil {
		t.Fatalf("RejectTask: %v", err)
	}
	if rejected.Status != models.TaskRejected {
		t.Errorf("status = %q, want rejected", rejected.Status)
	}
	if _, err := m.ApproveTask(ctx, other.ID, "x"); fault.CodeOf(err) != fault.CodeValidation {
		t.Error("rejected is terminal, approve must fail")
	}
}

func TestPauseResume(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	task, _ := m.CreateTask(ctx, TaskInput{
		ProjectID: "proj-1", Name: "a", CronExpression: "0 * * * *",
	})

	paused, err := m.PauseTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("PauseTask: %v", err)
	}
	if paused.Status != models.TaskPaused || paused.NextRunAt != nil {
		t.Errorf("paused task = %+v", paused)
	}
	if _, err := m.PauseTask(ctx, task.ID); fault.CodeOf(err) != fault.CodeValidation {
		t.Error("pausing a paused task must fail")
	}

	resumed, err := m.ResumeTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("ResumeTask: %v", err)
	}
	if resumed.Status != models.TaskActive || resumed.NextRunAt == nil {
		t.Errorf("resumed task = %+v", resumed)
	}
	if _, err := m.ResumeTask(ctx, task.ID); fault.CodeOf(err) != fault.CodeValidation {
		t.Error("resuming an active task must fail")
	}
}

func TestTaskNotFound(t *testing.T) {
	m := testManager()
	if _, err := m.GetTask(context.Background(), "task_missing"); fault.CodeOf(err) != fault.CodeTaskNotFound {
		t.Errorf("code = %v, want TASK_NOT_FOUND", fault.CodeOf(err))
	}
}

// stubExecutor counts invocations and returns canned outcomes.
type stubExecutor struct {
	calls  atomic.Int32
	result *RunResult
	errs   []error // consumed per call; last one repeats
	block  time.Duration
}

func (s *stubExecutor) RunScheduledTask(ctx context.Context, task *models.ScheduledTask) (*RunResult, error) {
	n := int(s.calls.Add(1))
	if s.block > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.block):
		}
	}
	if len(s.errs) > 0 {
		i := n - 1
		if i >= len(s.errs) {
			i = len(s.errs) - 1
		}
		if s.errs[i] != nil {
			return nil, s.errs[i]
		}
	}
	return s.result, nil
}

type runnerFixture struct {
	tasks  *MemoryTaskStore
	runs   *MemoryRunStore
	broker *queue.Memory
	runner *Runner
}

func newRunnerFixture(exec Executor) *runnerFixture {
	tasks := NewMemoryTaskStore()
	runs := NewMemoryRunStore()
	broker := queue.NewMemory()
	r := NewRunner(tasks, runs, broker, exec, RunnerConfig{
		Concurrency: 1,
		BackoffBase: time.Millisecond,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &runnerFixture{tasks: tasks, runs: runs, broker: broker, runner: r}
}

func activeTask(id string, budgets models.TaskBudgets) *models.ScheduledTask {
	now := time.Now()
	due := now.Add(-time.Minute)
	return &models.ScheduledTask{
		ID:             id,
		ProjectID:      "proj-1",
		Name:           "t",
		CronExpression: "* * * * *",
		TaskPayload:    json.RawMessage(`{"message":"go"}`),
		Origin:         models.TaskOriginStatic,
		Status:         models.TaskActive,
		Budgets:        budgets,
		NextRunAt:      &due,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestTickAdvancesBeforeExecute(t *testing.T) {
	fx := newRunnerFixture(&stubExecutor{})
	ctx := context.Background()

	task := activeTask("task-1", models.TaskBudgets{})
	fx.tasks.Create(ctx, task)

	fx.runner.Tick(ctx)

	if n, _ := fx.broker.Depth(ctx, TaskQueue); n != 1 {
		t.Fatalf("queue depth = %d, want 1", n)
	}
	got, _ := fx.tasks.Get(ctx, task.ID)
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now()) {
		t.Errorf("next_run_at = %v, want advanced past now", got.NextRunAt)
	}

	// A second tick before the next firing must not enqueue again.
	fx.runner.Tick(ctx)
	if n, _ := fx.broker.Depth(ctx, TaskQueue); n != 1 {
		t.Errorf("queue depth after second tick = %d, want 1", n)
	}
}

func TestTickCompletesAtMaxRuns(t *testing.T) {
	fx := newRunnerFixture(&stubExecutor{})
	ctx := context.Background()

	max := 3
	task := activeTask("task-1", models.TaskBudgets{})
	task.MaxRuns = &max
	task.RunCount = 3
	fx.tasks.Create(ctx, task)

	fx.runner.Tick(ctx)

	got, _ := fx.tasks.Get(ctx, task.ID)
	if got.Status != models.TaskCompleted || got.NextRunAt != nil {
		t.Errorf("task = %+v, want completed with nil next_run_at", got)
	}
	if n, _ := fx.broker.Depth(ctx, TaskQueue); n != 0 {
		t.Errorf("completed task must not enqueue, depth = %d", n)
	}
}

func TestTickExpiresTask(t *testing.T) {
	fx := newRunnerFixture(&stubExecutor{})
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	task := activeTask("task-1", models.TaskBudgets{})
	task.ExpiresAt = &past
	fx.tasks.Create(ctx, task)

	fx.runner.Tick(ctx)

	got, _ := fx.tasks.Get(ctx, task.ID)
	if got.Status != models.TaskExpired || got.NextRunAt != nil {
		t.Errorf("task = %+v, want expired with nil next_run_at", got)
	}
}

func drainOne(t *testing.T, fx *runnerFixture) {
	t.Helper()
	ctx := context.Background()
	job, err := fx.broker.Dequeue(ctx, TaskQueue)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if err := fx.runner.handle(ctx, job); err != nil {
		t.Fatalf("handle: %v", err)
	}
}

func TestHandleRecordsCompletedRun(t *testing.T) {
	exec := &stubExecutor{result: &RunResult{
		TraceID: "trace_1", Response: "done", TokensUsed: 120, CostUSD: 0.0042,
	}}
	fx := newRunnerFixture(exec)
	ctx := context.Background()

	task := activeTask("task-1", models.TaskBudgets{})
	fx.tasks.Create(ctx, task)
	fx.runner.Tick(ctx)
	drainOne(t, fx)

	runs, _ := fx.runs.ListByTask(ctx, task.ID)
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	run := runs[0]
	if run.Status != models.RunCompleted {
		t.Errorf("run status = %q, want completed", run.Status)
	}
	if run.TraceID != "trace_1" || run.Result != "done" || run.TokensUsed != 120 {
		t.Errorf("run = %+v", run)
	}
	if run.StartedAt == nil || run.CompletedAt == nil {
		t.Fatal("run timestamps not set")
	}
	if want := run.CompletedAt.Sub(*run.StartedAt).Milliseconds(); run.DurationMs != want {
		t.Errorf("duration_ms = %d, want %d", run.DurationMs, want)
	}

	got, _ := fx.tasks.Get(ctx, task.ID)
	if got.RunCount != 1 || got.LastRunAt == nil {
		t.Errorf("task counters = %+v", got)
	}
}

func TestHandleSkipsInactiveTask(t *testing.T) {
	exec := &stubExecutor{}
	fx := newRunnerFixture(exec)
	ctx := context.Background()

	task := activeTask("task-1", models.TaskBudgets{})
	fx.tasks.Create(ctx, task)
	fx.runner.Tick(ctx)

	// Pause between enqueue and execution.
	task.Status = models.TaskPaused
	task.NextRunAt = nil
	fx.tasks.Update(ctx, task)

	drainOne(t, fx)
	if exec.calls.Load() != 0 {
		t.Error("inactive task must not execute")
	}
	if runs, _ := fx.runs.ListByTask(ctx, task.ID); len(runs) != 0 {
		t.Errorf("runs = %d, want 0", len(runs))
	}
}

func TestHandleRetriesSameRunRecord(t *testing.T) {
	exec := &stubExecutor{
		errs:   []error{errors.New("upstream 503"), errors.New("upstream 503"), nil},
		result: &RunResult{Response: "ok"},
	}
	fx := newRunnerFixture(exec)
	ctx := context.Background()

	task := activeTask("task-1", models.TaskBudgets{MaxRetries: 3})
	fx.tasks.Create(ctx, task)
	fx.runner.Tick(ctx)

	for i := 0; i < 3; i++ {
		time.Sleep(5 * time.Millisecond) // let the retry delay elapse
		drainOne(t, fx)
	}

	runs, _ := fx.runs.ListByTask(ctx, task.ID)
	if len(runs) != 1 {
		t.Fatalf("retries must reuse the run record, got %d runs", len(runs))
	}
	run := runs[0]
	if run.Status != models.RunCompleted || run.RetryCount != 2 {
		t.Errorf("run = status %q retry_count %d, want completed/2", run.Status, run.RetryCount)
	}
	got, _ := fx.tasks.Get(ctx, task.ID)
	if got.RunCount != 1 {
		t.Errorf("run_count = %d, want 1 for a single firing", got.RunCount)
	}
}

func TestHandleExhaustsRetries(t *testing.T) {
	exec := &stubExecutor{errs: []error{errors.New("upstream 503")}}
	fx := newRunnerFixture(exec)
	ctx := context.Background()

	task := activeTask("task-1", models.TaskBudgets{MaxRetries: 2})
	fx.tasks.Create(ctx, task)
	fx.runner.Tick(ctx)

	for i := 0; i < 3; i++ {
		time.Sleep(5 * time.Millisecond)
		drainOne(t, fx)
	}

	runs, _ := fx.runs.ListByTask(ctx, task.ID)
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	run := runs[0]
	if run.Status != models.RunFailed || run.RetryCount != 2 {
		t.Errorf("run = status %q retry_count %d, want failed/2", run.Status, run.RetryCount)
	}
	if run.ErrorMessage == "" || run.CompletedAt == nil {
		t.Errorf("run = %+v, want error message and completion time", run)
	}
	if n, _ := fx.broker.Depth(ctx, TaskQueue); n != 0 {
		t.Errorf("no further retries expected, depth = %d", n)
	}
}

func TestHandleValidationErrorDoesNotRetry(t *testing.T) {
	exec := &stubExecutor{errs: []error{fault.New(fault.CodeConfig, "API key env var not set")}}
	fx := newRunnerFixture(exec)
	ctx := context.Background()

	task := activeTask("task-1", models.TaskBudgets{MaxRetries: 3})
	fx.tasks.Create(ctx, task)
	fx.runner.Tick(ctx)
	drainOne(t, fx)

	runs, _ := fx.runs.ListByTask(ctx, task.ID)
	if runs[0].Status != models.RunFailed || runs[0].RetryCount != 0 {
		t.Errorf("run = %+v, want failed without retries", runs[0])
	}
	if n, _ := fx.broker.Depth(ctx, TaskQueue); n != 0 {
		t.Errorf("config fault must not retry, depth = %d", n)
	}
}

func TestHandleTimeout(t *testing.T) {
	exec := &stubExecutor{block: 200 * time.Millisecond}
	fx := newRunnerFixture(exec)
	ctx := context.Background()

	task := activeTask("task-1", models.TaskBudgets{TimeoutMs: 20})
	fx.tasks.Create(ctx, task)
	fx.runner.Tick(ctx)
	drainOne(t, fx)

	runs, _ := fx.runs.ListByTask(ctx, task.ID)
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	if runs[0].Status != models.RunTimeout {
		t.Errorf("run status = %q, want timeout", runs[0].Status)
	}
}

func TestHandleBudgetExceededRun(t *testing.T) {
	exec := &stubExecutor{errs: []error{fault.New(fault.CodeBudgetExceeded, "daily budget exhausted")}}
	fx := newRunnerFixture(exec)
	ctx := context.Background()

	task := activeTask("task-1", models.TaskBudgets{MaxRetries: 3})
	fx.tasks.Create(ctx, task)
	fx.runner.Tick(ctx)
	drainOne(t, fx)

	runs, _ := fx.runs.ListByTask(ctx, task.ID)
	if runs[0].Status != models.RunBudgetExceeded {
		t.Errorf("run status = %q, want budget_exceeded", runs[0].Status)
	}
	if n, _ := fx.broker.Depth(ctx, TaskQueue); n != 0 {
		t.Errorf("budget exhaustion must not retry, depth = %d", n)
	}
}

func TestHandleCountsRunOutcome(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	exec := &stubExecutor{result: &RunResult{Response: "done"}}
	fx := newRunnerFixture(exec)
	fx.runner.cfg.Metrics = m
	ctx := context.Background()

	fx.tasks.Create(ctx, activeTask("task-1", models.TaskBudgets{}))
	fx.runner.Tick(ctx)
	drainOne(t, fx)

	if got := testutil.ToFloat64(m.TaskRunCounter.WithLabelValues(string(models.RunCompleted))); got != 1 {
		t.Errorf("completed runs = %v, want 1", got)
	}
}
