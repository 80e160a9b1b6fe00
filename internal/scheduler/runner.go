package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/internal/metrics"
	"github.com/loomhq/loom/internal/queue"
	"github.com/loomhq/loom/pkg/models"
)

// TaskQueue is the broker queue name for scheduled task jobs.
const TaskQueue = "scheduled_tasks"

// DefaultPollInterval is how often the tick scans for due tasks.
const DefaultPollInterval = 60 * time.Second

// RunResult is what one task execution produced.
type RunResult struct {
	TraceID    string
	Response   string
	TokensUsed int
	CostUSD    float64
}

// Executor runs the agent for one task firing. The agent host implements it.
type Executor interface {
	RunScheduledTask(ctx context.Context, task *models.ScheduledTask) (*RunResult, error)
}

// taskJob is the queue payload. RunID is set only on retries so the retry
// updates the same run record.
type taskJob struct {
	TaskID string `json:"task_id"`
	RunID  string `json:"run_id,omitempty"`
}

// RunnerConfig configures the task runner.
type RunnerConfig struct {
	// PollInterval is the tick period. Defaults to 60s.
	PollInterval time.Duration

	// Concurrency is the worker pool size. Defaults to 5.
	Concurrency int

	// BackoffBase seeds retry delays. Defaults to 2s.
	BackoffBase time.Duration

	// Metrics, when set, counts terminal run outcomes.
	Metrics *metrics.Metrics

	Logger *slog.Logger

	// Now overrides the clock. For tests.
	Now func() time.Time
}

// Runner polls for due tasks, enqueues firings, and executes them through a
// worker pool. Firings are enqueued and nextRunAt is advanced in the same
// tick, so a slow worker never double-enqueues the same firing; missed
// firings during an outage are not replayed.
type Runner struct {
	tasks  TaskStore
	runs   RunStore
	broker queue.Queue
	exec   Executor
	cfg    RunnerConfig

	worker *queue.Worker
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a task runner.
func NewRunner(tasks TaskStore, runs RunStore, broker queue.Queue, exec Executor, cfg RunnerConfig) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{tasks: tasks, runs: runs, broker: broker, exec: exec, cfg: cfg}
}

// Start launches the tick loop and the worker pool.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.worker = queue.NewWorker(r.broker, TaskQueue, r.handle, queue.WorkerConfig{
		Concurrency: r.cfg.Concurrency,
		BackoffBase: r.cfg.BackoffBase,
		Logger:      r.cfg.Logger,
	})
	r.worker.Start(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Tick(ctx)
			}
		}
	}()
	r.cfg.Logger.Info("task runner started",
		"poll_interval", r.cfg.PollInterval, "concurrency", r.cfg.Concurrency)
}

// Stop cancels the tick loop and drains in-flight jobs.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	if r.worker != nil {
		r.worker.Stop()
	}
}

// Tick scans for due tasks and enqueues one firing per task. Exported so a
// test or an operator endpoint can force a scan.
func (r *Runner) Tick(ctx context.Context) {
	now := r.cfg.Now()
	due, err := r.tasks.Due(ctx, now)
	if err != nil {
		r.cfg.Logger.Error("due-task scan failed", "error", err)
		return
	}
	for _, task := range due {
		if err := r.fire(ctx, task, now); err != nil {
			r.cfg.Logger.Error("task firing failed", "task_id", task.ID, "error", err)
		}
	}
}

func (r *Runner) fire(ctx context.Context, task *models.ScheduledTask, now time.Time) error {
	if task.MaxRuns != nil && task.RunCount >= *task.MaxRuns {
		task.Status = models.TaskCompleted
		task.NextRunAt = nil
		r.cfg.Logger.Info("task completed", "task_id", task.ID, "run_count", task.RunCount)
		return r.tasks.Update(ctx, task)
	}
	if task.ExpiresAt != nil && !task.ExpiresAt.After(now) {
		task.Status = models.TaskExpired
		task.NextRunAt = nil
		r.cfg.Logger.Info("task expired", "task_id", task.ID)
		return r.tasks.Update(ctx, task)
	}

	payload, err := json.Marshal(taskJob{TaskID: task.ID})
	if err != nil {
		return err
	}
	job := &queue.Job{
		ID:          "job_" + uuid.NewString(),
		Queue:       TaskQueue,
		Payload:     payload,
		MaxAttempts: 1,
	}
	if _, err := r.broker.Enqueue(ctx, job); err != nil {
		return err
	}

	// Advance before executing so the same firing is never enqueued twice.
	next, err := nextFiring(task.CronExpression, now)
	if err != nil {
		return err
	}
	task.NextRunAt = &next
	return r.tasks.Update(ctx, task)
}

// handle executes one firing. Retry re-enqueueing is done here (with the run
// ID in the payload) rather than via Nack, so retries stay attributed to the
// original run record. Returning nil always acknowledges the job.
func (r *Runner) handle(ctx context.Context, job *queue.Job) error {
	var payload taskJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Terminal(err)
	}

	task, err := r.tasks.Get(ctx, payload.TaskID)
	if err != nil {
		return err
	}
	if task == nil || task.Status != models.TaskActive {
		r.cfg.Logger.Debug("skipping job for inactive task", "task_id", payload.TaskID)
		return nil
	}

	run, err := r.resolveRun(ctx, task, payload.RunID)
	if err != nil {
		return err
	}

	now := r.cfg.Now()
	run.Status = models.RunRunning
	if run.StartedAt == nil {
		run.StartedAt = &now
	}
	if err := r.runs.Update(ctx, run); err != nil {
		return err
	}

	result, execErr := r.execute(ctx, task)
	r.finishRun(ctx, task, run, result, execErr)
	return nil
}

func (r *Runner) resolveRun(ctx context.Context, task *models.ScheduledTask, runID string) (*models.ScheduledTaskRun, error) {
	if runID != "" {
		run, err := r.runs.Get(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run != nil {
			run.RetryCount++
			return run, nil
		}
	}
	run := &models.ScheduledTaskRun{
		ID:     "run_" + uuid.NewString(),
		TaskID: task.ID,
		Status: models.RunPending,
	}
	if err := r.runs.Create(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// execute runs the agent under the task's hard timer.
func (r *Runner) execute(ctx context.Context, task *models.ScheduledTask) (*RunResult, error) {
	if task.Budgets.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(task.Budgets.TimeoutMs)*time.Millisecond)
		defer cancel()
	}
	result, err := r.exec.RunScheduledTask(ctx, task)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return result, fault.Wrap(fault.CodeTimeout, err, "run exceeded %dms", task.Budgets.TimeoutMs)
	}
	return result, err
}

// finishRun records the outcome and either schedules a retry or finalizes
// the run and the task counters.
func (r *Runner) finishRun(ctx context.Context, task *models.ScheduledTask, run *models.ScheduledTaskRun, result *RunResult, execErr error) {
	now := r.cfg.Now()

	if result != nil {
		run.TraceID = result.TraceID
		run.Result = result.Response
		run.TokensUsed = result.TokensUsed
		run.CostUSD = result.CostUSD
	}

	switch {
	case execErr == nil:
		run.Status = models.RunCompleted
	case fault.CodeOf(execErr) == fault.CodeTimeout:
		run.Status = models.RunTimeout
		run.ErrorMessage = execErr.Error()
	case fault.CodeOf(execErr) == fault.CodeBudgetExceeded:
		run.Status = models.RunBudgetExceeded
		run.ErrorMessage = execErr.Error()
	default:
		run.ErrorMessage = execErr.Error()
		if r.retryable(execErr) && run.RetryCount < task.Budgets.MaxRetries {
			run.Status = models.RunFailed
			if err := r.runs.Update(ctx, run); err != nil {
				r.cfg.Logger.Error("run update failed", "run_id", run.ID, "error", err)
				return
			}
			delay := queue.Backoff(r.cfg.BackoffBase, run.RetryCount+1)
			if err := r.enqueueRetry(ctx, task, run, delay); err != nil {
				r.cfg.Logger.Error("retry enqueue failed", "run_id", run.ID, "error", err)
			}
			r.cfg.Logger.Warn("run failed, retry scheduled",
				"task_id", task.ID, "run_id", run.ID, "retry_count", run.RetryCount, "delay", delay)
			return
		}
		run.Status = models.RunFailed
	}

	run.CompletedAt = &now
	if run.StartedAt != nil {
		run.DurationMs = now.Sub(*run.StartedAt).Milliseconds()
	}
	if m := r.cfg.Metrics; m != nil {
		m.TaskRunCounter.WithLabelValues(string(run.Status)).Inc()
	}
	if err := r.runs.Update(ctx, run); err != nil {
		r.cfg.Logger.Error("run update failed", "run_id", run.ID, "error", err)
	}

	task.LastRunAt = run.StartedAt
	task.RunCount++
	if err := r.tasks.Update(ctx, task); err != nil {
		r.cfg.Logger.Error("task counter update failed", "task_id", task.ID, "error", err)
	}
	r.cfg.Logger.Info("task run finished",
		"task_id", task.ID, "run_id", run.ID, "status", run.Status, "duration_ms", run.DurationMs)
}

// retryable reports whether a failure is transient. Validation and config
// faults never heal on retry.
func (r *Runner) retryable(err error) bool {
	switch fault.CodeOf(err) {
	case fault.CodeValidation, fault.CodeConfig, fault.CodeToolNotAllowed,
		fault.CodeToolHallucination, fault.CodeMaxTurnsExceeded, fault.CodeAborted:
		return false
	}
	return !errors.Is(err, context.Canceled)
}

func (r *Runner) enqueueRetry(ctx context.Context, task *models.ScheduledTask, run *models.ScheduledTaskRun, delay time.Duration) error {
	payload, err := json.Marshal(taskJob{TaskID: task.ID, RunID: run.ID})
	if err != nil {
		return err
	}
	job := &queue.Job{
		ID:          "job_" + uuid.NewString(),
		Queue:       TaskQueue,
		Payload:     payload,
		MaxAttempts: 1,
		RunAt:       r.cfg.Now().Add(delay),
	}
	_, err = r.broker.Enqueue(ctx, job)
	return err
}
