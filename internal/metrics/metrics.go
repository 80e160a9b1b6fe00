// Package metrics exposes Prometheus collectors for the agent runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the runtime reports to.
type Metrics struct {
	// AgentRunCounter counts agent runs by terminal status.
	// Labels: project_id, status
	AgentRunCounter *prometheus.CounterVec

	// AgentRunDuration measures full agent-run latency in seconds.
	// Labels: project_id
	AgentRunDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// CostUSD accumulates model spend per project.
	// Labels: project_id
	CostUSD *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_id, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// QueueDepth tracks ready jobs per queue.
	// Labels: queue
	QueueDepth *prometheus.GaugeVec

	// WebhookJobCounter counts webhook jobs by outcome.
	// Labels: outcome (processed|noop|retried|dropped)
	WebhookJobCounter *prometheus.CounterVec

	// TaskRunCounter counts scheduled task runs by terminal status.
	// Labels: status
	TaskRunCounter *prometheus.CounterVec

	// HTTPRequestDuration measures API request latency in seconds.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors. Pass nil to use the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		AgentRunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_agent_runs_total",
				Help: "Total agent runs by project and terminal status",
			},
			[]string{"project_id", "status"},
		),
		AgentRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loom_agent_run_duration_seconds",
				Help:    "Duration of agent runs in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"project_id"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_llm_tokens_total",
				Help: "Total tokens consumed by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		CostUSD: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_cost_usd_total",
				Help: "Accumulated model spend in USD per project",
			},
			[]string{"project_id"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_tool_executions_total",
				Help: "Total tool executions by tool and status",
			},
			[]string{"tool_id", "status"},
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "loom_queue_depth",
				Help: "Ready jobs per queue",
			},
			[]string{"queue"},
		),
		WebhookJobCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_webhook_jobs_total",
				Help: "Webhook jobs by outcome",
			},
			[]string{"outcome"},
		),
		TaskRunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_task_runs_total",
				Help: "Scheduled task runs by terminal status",
			},
			[]string{"status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loom_http_request_duration_seconds",
				Help:    "Duration of API requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
	}
}
