// Package queue abstracts the job broker behind the scheduler and the
// webhook pipeline. Producers enqueue durable jobs; worker pools consume
// them with retry and backoff. Implementations: in-process (dev, tests) and
// Redis (production).
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Job is one unit of deferred work.
type Job struct {
	// ID is the unique job identifier.
	ID string `json:"id"`

	// Queue names the queue the job belongs to.
	Queue string `json:"queue"`

	// Payload is the job body.
	Payload json.RawMessage `json:"payload"`

	// Attempt counts deliveries, starting at 1 for the first.
	Attempt int `json:"attempt"`

	// MaxAttempts bounds deliveries. Zero means one delivery.
	MaxAttempts int `json:"max_attempts"`

	// RunAt delays the job until the given time. Zero means immediately.
	RunAt time.Time `json:"run_at,omitempty"`

	// DedupKey, when set, drops the job if another job with the same key
	// was enqueued inside the dedup window.
	DedupKey string `json:"dedup_key,omitempty"`
}

// NewJob builds a job with a fresh ID and marshalled payload.
func NewJob(queueName string, payload any) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Job{
		ID:      "job_" + uuid.NewString(),
		Queue:   queueName,
		Payload: body,
	}, nil
}

// ErrEmpty is returned by Dequeue when no job became available before the
// poll deadline. Callers loop.
var ErrEmpty = errors.New("queue: no job available")

// Queue is the broker contract. Jobs are acknowledged only after the
// consumer durably recorded the outcome; unacknowledged jobs survive in the
// active set for crash inspection.
type Queue interface {
	// Enqueue persists a job. It reports false when the job was dropped by
	// deduplication.
	Enqueue(ctx context.Context, job *Job) (bool, error)

	// Dequeue pops the next due job from the named queue, waiting up to a
	// short poll interval. Returns ErrEmpty on timeout.
	Dequeue(ctx context.Context, queueName string) (*Job, error)

	// Ack marks the job done and removes it from the active set.
	Ack(ctx context.Context, job *Job) error

	// Nack returns the job to the queue for redelivery after the given
	// delay, incrementing its attempt counter.
	Nack(ctx context.Context, job *Job, delay time.Duration) error

	// Depth returns the number of ready jobs in the named queue.
	Depth(ctx context.Context, queueName string) (int, error)
}

// Backoff computes the exponential retry delay for a delivery attempt:
// base, 2*base, 4*base, ... capped at 5 minutes.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 2 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= 5*time.Minute {
			return 5 * time.Minute
		}
	}
	return d
}
