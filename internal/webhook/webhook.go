// Package webhook defers inbound channel webhooks to a queue so the HTTP
// handler can acknowledge immediately.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/channels"
	"github.com/loomhq/loom/internal/inbound"
	"github.com/loomhq/loom/internal/metrics"
	"github.com/loomhq/loom/internal/queue"
)

// QueueName is the broker queue for webhook jobs.
const QueueName = "webhooks"

// MaxAttempts is how many times a retryable job is tried.
const MaxAttempts = 3

// Event is one received webhook, persisted as the job payload.
type Event struct {
	// WebhookID is the provider's delivery ID, used for deduplication.
	WebhookID string `json:"webhook_id"`

	// ProjectID is the target project.
	ProjectID string `json:"project_id"`

	// Provider is the channel provider name.
	Provider string `json:"provider"`

	// Payload is the raw provider payload.
	Payload json.RawMessage `json:"payload"`

	// ReceivedAt is when the webhook arrived.
	ReceivedAt time.Time `json:"received_at"`

	// ConversationID is the channel conversation, when the HTTP layer can
	// cheaply extract it.
	ConversationID string `json:"conversation_id,omitempty"`
}

// Service enqueues webhook events with deduplication.
type Service struct {
	broker queue.Queue
	logger *slog.Logger
}

// NewService creates a webhook enqueue service.
func NewService(broker queue.Queue, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{broker: broker, logger: logger}
}

// Enqueue persists the event and returns synchronously. A duplicate
// WebhookID inside the dedup window returns (false, nil).
func (s *Service) Enqueue(ctx context.Context, event *Event) (bool, error) {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return false, err
	}
	job := &queue.Job{
		ID:          "job_" + uuid.NewString(),
		Queue:       QueueName,
		Payload:     payload,
		MaxAttempts: MaxAttempts,
	}
	if event.WebhookID != "" {
		job.DedupKey = "wh:" + event.WebhookID
	}
	accepted, err := s.broker.Enqueue(ctx, job)
	if err != nil {
		return false, err
	}
	if !accepted {
		s.logger.Debug("duplicate webhook dropped",
			"webhook_id", event.WebhookID, "project_id", event.ProjectID)
	}
	return accepted, nil
}

// Processor consumes webhook jobs and drives the inbound pipeline.
type Processor struct {
	resolver inbound.AdapterResolver
	inbound  *inbound.Processor
	logger   *slog.Logger

	// Metrics, when set, counts job outcomes
	// (processed, noop, retried, dropped).
	Metrics *metrics.Metrics
}

// NewProcessor creates a webhook job processor.
func NewProcessor(resolver inbound.AdapterResolver, processor *inbound.Processor, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{resolver: resolver, inbound: processor, logger: logger}
}

// NewWorker creates the worker pool consuming the webhook queue.
func (p *Processor) NewWorker(broker queue.Queue, concurrency int) *queue.Worker {
	return queue.NewWorker(broker, QueueName, p.Handle, queue.WorkerConfig{
		Concurrency: concurrency,
		BackoffBase: 2 * time.Second,
		Logger:      p.logger,
	})
}

// Handle processes one job. Missing adapters and malformed payloads fail
// terminally; agent and delivery failures are retried by the worker.
func (p *Processor) Handle(ctx context.Context, job *queue.Job) error {
	var event Event
	if err := json.Unmarshal(job.Payload, &event); err != nil {
		return p.outcome("dropped", queue.Terminal(err))
	}

	// 1. Resolve the adapter; a project without this channel is permanent.
	adapter, err := p.resolver.Resolve(ctx, event.ProjectID, event.Provider)
	if err != nil {
		return p.outcome("dropped", queue.Terminal(err))
	}
	if adapter == nil {
		return p.outcome("dropped", queue.Terminal(fmt.Errorf("no %s integration for project %s", event.Provider, event.ProjectID)))
	}

	// 2. Parse; events without an incoming message are a successful no-op.
	msg, err := adapter.Parse(event.Payload)
	if err != nil {
		return p.outcome("dropped", queue.Terminal(err))
	}
	if msg == nil {
		return p.outcome("noop", nil)
	}
	if event.ConversationID != "" {
		msg.ConversationID = event.ConversationID
	}

	// 3. Explicit escalation skips the agent entirely.
	if channels.WantsEscalation(msg.Text) {
		p.logger.Info("escalation requested",
			"project_id", event.ProjectID, "conversation_id", msg.ConversationID)
		if err := adapter.Handoff(ctx, msg.ConversationID, "user requested a human"); err != nil {
			return p.outcome("retried", err)
		}
		return p.outcome("processed", nil)
	}

	// 4-6. Agent run, handoff-marker handling, and delivery.
	result, err := p.inbound.Process(ctx, msg)
	if err != nil {
		return p.outcome("retried", err)
	}
	if !result.Success {
		return p.outcome("retried", errors.New(result.Error))
	}
	return p.outcome("processed", nil)
}

// outcome counts the job's disposition and passes err through.
func (p *Processor) outcome(label string, err error) error {
	if p.Metrics != nil {
		p.Metrics.WebhookJobCounter.WithLabelValues(label).Inc()
	}
	return err
}
