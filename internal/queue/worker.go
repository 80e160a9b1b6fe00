package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Handler processes one job. A nil return acknowledges the job; an error
// schedules a retry unless the error is terminal or attempts ran out.
type Handler func(ctx context.Context, job *Job) error

// errTerminal marks failures that must not retry.
type errTerminal struct{ err error }

func (e *errTerminal) Error() string { return e.err.Error() }
func (e *errTerminal) Unwrap() error { return e.err }

// Terminal wraps err so the worker drops the job instead of retrying.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &errTerminal{err: err}
}

// IsTerminal reports whether err was marked with Terminal.
func IsTerminal(err error) bool {
	var te *errTerminal
	return errors.As(err, &te)
}

// WorkerConfig configures a worker pool.
type WorkerConfig struct {
	// Concurrency is the number of parallel consumers. Defaults to 5.
	Concurrency int

	// BackoffBase seeds the exponential retry delay. Defaults to 2s.
	BackoffBase time.Duration

	// JobTimeout bounds one handler invocation. Zero disables.
	JobTimeout time.Duration

	// Logger for worker events.
	Logger *slog.Logger
}

// Worker consumes a named queue with a bounded pool.
type Worker struct {
	q       Queue
	name    string
	handler Handler
	cfg     WorkerConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a worker pool for the named queue.
func NewWorker(q Queue, name string, handler Handler, cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{q: q, name: name, handler: handler, cfg: cfg}
}

// Start launches the pool. It returns immediately; call Stop to drain.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.consume(ctx)
	}
	w.cfg.Logger.Info("queue worker started", "queue", w.name, "concurrency", w.cfg.Concurrency)
}

// Stop cancels consumption and waits for in-flight jobs.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Worker) consume(ctx context.Context) {
	defer w.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.q.Dequeue(ctx, w.name)
		if errors.Is(err, ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.cfg.Logger.Error("dequeue failed", "queue", w.name, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		w.handle(ctx, job)
	}
}

func (w *Worker) handle(ctx context.Context, job *Job) {
	jobCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}

	err := w.handler(jobCtx, job)
	if err == nil {
		if ackErr := w.q.Ack(ctx, job); ackErr != nil {
			w.cfg.Logger.Error("ack failed", "queue", w.name, "job_id", job.ID, "error", ackErr)
		}
		return
	}

	if IsTerminal(err) || job.Attempt >= job.MaxAttempts {
		w.cfg.Logger.Error("job failed permanently",
			"queue", w.name, "job_id", job.ID, "attempt", job.Attempt, "error", err)
		if ackErr := w.q.Ack(ctx, job); ackErr != nil {
			w.cfg.Logger.Error("ack failed", "queue", w.name, "job_id", job.ID, "error", ackErr)
		}
		return
	}

	delay := Backoff(w.cfg.BackoffBase, job.Attempt)
	w.cfg.Logger.Warn("job failed, retrying",
		"queue", w.name, "job_id", job.ID, "attempt", job.Attempt, "delay", delay, "error", err)
	if nackErr := w.q.Nack(ctx, job, delay); nackErr != nil {
		w.cfg.Logger.Error("nack failed", "queue", w.name, "job_id", job.ID, "error", nackErr)
	}
}
