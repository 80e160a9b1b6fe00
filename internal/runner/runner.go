// Package runner drives the multi-turn agent loop: model streaming, tool
// dispatch, budget enforcement, failover, and trace building.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/costguard"
	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/internal/memory"
	"github.com/loomhq/loom/internal/metrics"
	"github.com/loomhq/loom/internal/provider"
	"github.com/loomhq/loom/internal/tools"
	"github.com/loomhq/loom/internal/trace"
	"github.com/loomhq/loom/pkg/models"
)

const defaultMaxTurns = 10

// Input is one run request.
type Input struct {
	// ProjectID is the tenant the run belongs to.
	ProjectID string

	// SessionID is the session the run belongs to.
	SessionID string

	// Message is the new user message.
	Message string

	// AgentConfig is the project's agent configuration.
	AgentConfig models.AgentConfig

	// SystemPrompt is the assembled system prompt.
	SystemPrompt string

	// PromptSnapshot identifies the prompt inputs, attached to the trace.
	PromptSnapshot models.PromptSnapshot

	// ConversationHistory seeds the conversation before the new message.
	ConversationHistory []models.Message

	// OnEvent, when set, receives the run's stream events in order.
	OnEvent func(models.AgentStreamEvent)
}

// Config wires a runner's collaborators. Provider, Registry, and Traces are
// required; the rest degrade gracefully when absent.
type Config struct {
	// Provider is the primary model provider.
	Provider provider.Provider

	// Fallback, when set, receives exactly one retry after a
	// failover-eligible primary error.
	Fallback provider.Provider

	// Registry resolves and executes tool calls.
	Registry *tools.Registry

	// Memory handles context fitting and long-term retrieval. Optional.
	Memory *memory.Manager

	// Guard meters budgets and usage. Optional; without it runs are
	// unmetered.
	Guard *costguard.Guard

	// Traces persists the execution trace.
	Traces trace.Store

	// Metrics, when set, receives run, token, cost, and tool counters.
	Metrics *metrics.Metrics

	// Logger for run events.
	Logger *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Runner executes agent runs. Safe for concurrent use; each Run owns its
// own state.
type Runner struct {
	cfg Config
}

// New creates a runner.
func New(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{cfg: cfg}
}

// run carries the mutable state of one run.
type run struct {
	r       *Runner
	in      *Input
	trace   *models.ExecutionTrace
	convo   []models.Message
	started time.Time
	turn    int

	totalUsage models.TokenUsage
	failedOver bool
	errored    bool // stream error emitted
	lastText   string
}

// Run executes the agent loop until a terminal status. The returned trace
// always reaches a terminal status and is persisted before return; err is
// non-nil for every terminal status other than completed.
func (r *Runner) Run(ctx context.Context, in *Input) (*models.ExecutionTrace, error) {
	now := r.cfg.Now()
	st := &run{
		r:       r,
		in:      in,
		started: now,
		trace: &models.ExecutionTrace{
			ID:             "trace_" + uuid.NewString(),
			ProjectID:      in.ProjectID,
			SessionID:      in.SessionID,
			PromptSnapshot: in.PromptSnapshot,
			Status:         models.TraceRunning,
			CreatedAt:      now,
		},
	}
	st.convo = append(st.convo, in.ConversationHistory...)
	st.convo = append(st.convo, models.Message{
		ID:        "msg_" + uuid.NewString(),
		SessionID: in.SessionID,
		Role:      models.RoleUser,
		Content:   in.Message,
		TraceID:   st.trace.ID,
		CreatedAt: now,
	})

	if r.cfg.Traces != nil {
		if err := r.cfg.Traces.Create(ctx, st.trace); err != nil {
			return nil, fault.Wrap(fault.CodeSession, err, "failed to create trace")
		}
	}
	st.emit(models.AgentStreamEvent{Type: models.StreamAgentStart, TraceID: st.trace.ID})

	runErr := st.loop(ctx)
	return st.finish(ctx, runErr)
}

func (st *run) loop(ctx context.Context) error {
	maxTurns := st.in.AgentConfig.MaxTurnsPerSession
	if maxTurns <= 0 {
		maxTurns = st.in.AgentConfig.CostConfig.MaxTurnsPerSession
	}
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	for {
		if ctx.Err() != nil {
			st.trace.Status = models.TraceAborted
			return fault.New(fault.CodeAborted, "run aborted")
		}

		st.turn++
		st.trace.TurnCount = st.turn
		if st.turn > maxTurns {
			st.trace.Status = models.TraceMaxTurns
			err := fault.New(fault.CodeMaxTurnsExceeded, "max turns exceeded: %d", maxTurns)
			st.addErrorEvent("max_turns_exceeded", err)
			st.emitError(err)
			return err
		}

		if done, err := st.preCheck(ctx); done {
			return err
		}

		memorySection := st.retrieveMemories(ctx)
		messages := st.fitContext(ctx)

		text, toolCalls, usage, err := st.modelTurn(ctx, messages, memorySection)
		if err != nil {
			if fault.Is(err, fault.CodeAborted) {
				st.trace.Status = models.TraceAborted
				return err
			}
			st.trace.Status = models.TraceFailed
			st.addErrorEvent("provider_error", err)
			st.emitError(err)
			return err
		}

		st.recordUsage(ctx, usage)
		assistant := models.Message{
			ID:        "msg_" + uuid.NewString(),
			SessionID: st.in.SessionID,
			Role:      models.RoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
			TraceID:   st.trace.ID,
			CreatedAt: st.r.cfg.Now(),
		}
		st.convo = append(st.convo, assistant)
		st.lastText = text
		st.trace.AddEvent(models.TraceEvent{
			Type: models.TraceEventLLMResponse,
			Turn: st.turn,
			Data: models.EventData(map[string]any{
				"provider":      st.providerName(),
				"model":         st.providerModel(),
				"input_tokens":  usage.InputTokens,
				"output_tokens": usage.OutputTokens,
				"tool_calls":    len(toolCalls),
			}),
		})

		if max := st.in.AgentConfig.CostConfig.MaxToolCallsPerTurn; max > 0 && len(toolCalls) > max {
			st.trace.Status = models.TraceFailed
			err := fault.New(fault.CodeValidation, "tool call count %d exceeds per-turn limit %d", len(toolCalls), max)
			st.addErrorEvent("max_tool_calls_exceeded", err)
			st.emitError(err)
			return err
		}

		if len(toolCalls) == 0 {
			st.trace.Status = models.TraceCompleted
			st.emit(models.AgentStreamEvent{Type: models.StreamTurnComplete, TraceID: st.trace.ID, Turn: st.turn})
			return nil
		}

		pending, err := st.executeTools(ctx, toolCalls)
		st.emit(models.AgentStreamEvent{Type: models.StreamTurnComplete, TraceID: st.trace.ID, Turn: st.turn})
		if pending {
			return err
		}
		st.checkpoint(ctx)
	}
}

// preCheck runs the cost guard. It reports done=true when the loop must
// stop, with the error to surface.
func (st *run) preCheck(ctx context.Context) (bool, error) {
	if st.r.cfg.Guard == nil {
		return false, nil
	}
	alert, err := st.r.cfg.Guard.PreCheck(ctx, st.in.ProjectID, st.in.AgentConfig.CostConfig)
	if err != nil {
		if fault.Is(err, fault.CodeBudgetExceeded) {
			st.trace.Status = models.TraceBudgetExceeded
			st.trace.AddEvent(models.TraceEvent{
				Type: models.TraceEventCostAlert,
				Turn: st.turn,
				Data: models.EventData(map[string]any{"reason": "budget_exceeded", "error": err.Error()}),
			})
			st.emitError(err)
			return true, err
		}
		st.trace.Status = models.TraceFailed
		st.addErrorEvent("cost_precheck_failed", err)
		st.emitError(err)
		return true, err
	}
	if alert != nil {
		st.trace.AddEvent(models.TraceEvent{
			Type: models.TraceEventCostAlert,
			Turn: st.turn,
			Data: models.EventData(alert),
		})
	}
	return false, nil
}

// retrieveMemories pulls long-term memories for the user message and, when
// any surface, records the retrieval and returns the system prompt section
// exposing them to the model. The section is per-turn; Input is never
// mutated.
func (st *run) retrieveMemories(ctx context.Context) string {
	if st.r.cfg.Memory == nil {
		return ""
	}
	retrieved, err := st.r.cfg.Memory.Retrieve(ctx, st.in.ProjectID, st.in.Message, memory.RetrieveOptions{})
	if err != nil {
		st.r.cfg.Logger.Warn("memory retrieval failed", "trace_id", st.trace.ID, "error", err)
		return ""
	}
	if len(retrieved) == 0 {
		return ""
	}
	ids := make([]string, len(retrieved))
	var sb strings.Builder
	sb.WriteString("## Relevant memories\n")
	for i, m := range retrieved {
		ids[i] = m.Entry.ID
		fmt.Fprintf(&sb, "- %s\n", m.Entry.Content)
	}
	st.trace.AddEvent(models.TraceEvent{
		Type: models.TraceEventMemoryRetrieval,
		Turn: st.turn,
		Data: models.EventData(map[string]any{"count": len(retrieved), "entry_ids": ids}),
	})
	return strings.TrimRight(sb.String(), "\n")
}

// fitContext reduces the conversation to the provider's window and, when
// the fit drops enough turns, substitutes a compaction summary for the
// dropped range.
func (st *run) fitContext(ctx context.Context) []models.Message {
	if st.r.cfg.Memory == nil {
		return st.convo
	}
	p := st.currentProvider()
	fit := st.r.cfg.Memory.Fit(st.convo, p.ContextWindow(), p.CountTokens)
	messages, compacted, err := st.r.cfg.Memory.Compact(ctx, st.in.ProjectID, fit, memory.NewProviderSummarizer(p))
	if err != nil {
		st.r.cfg.Logger.Warn("compaction failed", "trace_id", st.trace.ID, "error", err)
		return fit.Messages
	}
	if compacted {
		st.trace.AddEvent(models.TraceEvent{
			Type: models.TraceEventCompaction,
			Turn: st.turn,
			Data: models.EventData(map[string]any{
				"dropped_turns": fit.DroppedTurns,
				"total_turns":   fit.TotalTurns,
			}),
		})
	}
	return messages
}

func (st *run) recordUsage(ctx context.Context, usage models.TokenUsage) {
	st.totalUsage.Add(usage)
	st.trace.TotalTokensUsed = st.totalUsage.Total()
	if m := st.r.cfg.Metrics; m != nil {
		m.LLMTokensUsed.WithLabelValues(st.providerName(), st.providerModel(), "input").Add(float64(usage.InputTokens))
		m.LLMTokensUsed.WithLabelValues(st.providerName(), st.providerModel(), "output").Add(float64(usage.OutputTokens))
	}
	if st.r.cfg.Guard == nil {
		return
	}
	turnKey := fmt.Sprintf("%s#%d", st.trace.ID, st.turn)
	rec, err := st.r.cfg.Guard.RecordUsage(ctx, st.in.ProjectID, st.providerName(), st.providerModel(), usage, turnKey)
	if err != nil {
		st.r.cfg.Logger.Warn("usage recording failed", "trace_id", st.trace.ID, "error", err)
		return
	}
	st.trace.TotalCostUSD += rec.CostUSD
	if m := st.r.cfg.Metrics; m != nil {
		m.CostUSD.WithLabelValues(st.in.ProjectID).Add(rec.CostUSD)
	}
}

// executeTools dispatches the turn's tool calls sequentially in emitted
// order. It reports pending=true when the run must park for approval.
func (st *run) executeTools(ctx context.Context, calls []models.ToolCall) (bool, error) {
	ec := &tools.ExecContext{
		ProjectID:    st.in.ProjectID,
		SessionID:    st.in.SessionID,
		TraceID:      st.trace.ID,
		AllowedTools: st.in.AgentConfig.AllowedTools,
		Logger:       st.r.cfg.Logger,
	}

	results := make([]models.ToolResult, 0, len(calls))
	for _, call := range calls {
		st.trace.AddEvent(models.TraceEvent{
			Type: models.TraceEventToolCall,
			Turn: st.turn,
			Data: models.EventData(map[string]any{"tool_id": call.Name, "tool_call_id": call.ID, "input": call.Input}),
		})
		st.emit(models.AgentStreamEvent{
			Type:       models.StreamToolUseStart,
			TraceID:    st.trace.ID,
			Turn:       st.turn,
			ToolCallID: call.ID,
			ToolName:   call.Name,
		})

		res, err := st.r.cfg.Registry.Resolve(ctx, call.Name, call.Input, ec)
		if fault.Is(err, fault.CodeApprovalRequired) {
			fe, _ := fault.As(err)
			approvalID, _ := fe.Context["approval_id"].(string)
			st.trace.AddEvent(models.TraceEvent{
				Type: models.TraceEventApprovalRequested,
				Turn: st.turn,
				Data: models.EventData(map[string]any{"tool_id": call.Name, "approval_id": approvalID}),
			})
			st.trace.Status = models.TraceHumanApprovalPending
			st.appendToolResults(results)
			return true, err
		}

		tr := models.ToolResult{ToolCallID: call.ID}
		switch {
		case err != nil:
			tr.Content = err.Error()
			tr.IsError = true
		case res != nil:
			tr.Content = res.Content
			tr.IsError = res.IsError
		}
		results = append(results, tr)
		if m := st.r.cfg.Metrics; m != nil {
			status := "success"
			if tr.IsError {
				status = "error"
			}
			m.ToolExecutionCounter.WithLabelValues(call.Name, status).Inc()
		}

		st.trace.AddEvent(models.TraceEvent{
			Type: models.TraceEventToolResult,
			Turn: st.turn,
			Data: models.EventData(map[string]any{"tool_id": call.Name, "tool_call_id": call.ID, "success": !tr.IsError}),
		})
		st.emit(models.AgentStreamEvent{
			Type:       models.StreamToolResult,
			TraceID:    st.trace.ID,
			Turn:       st.turn,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			ToolResult: &tr,
		})
	}

	st.appendToolResults(results)
	return false, nil
}

func (st *run) appendToolResults(results []models.ToolResult) {
	if len(results) == 0 {
		return
	}
	st.convo = append(st.convo, models.Message{
		ID:          "msg_" + uuid.NewString(),
		SessionID:   st.in.SessionID,
		Role:        models.RoleTool,
		ToolResults: results,
		TraceID:     st.trace.ID,
		CreatedAt:   st.r.cfg.Now(),
	})
}

// checkpoint saves trace progress between turns so a crash never loses
// completed turns.
func (st *run) checkpoint(ctx context.Context) {
	if st.r.cfg.Traces == nil {
		return
	}
	if err := st.r.cfg.Traces.Save(ctx, st.trace); err != nil {
		st.r.cfg.Logger.Warn("trace checkpoint failed", "trace_id", st.trace.ID, "error", err)
	}
}

// finish applies terminal actions: duration, completedAt, persistence, and
// the agent_complete stream event, which fires for every outcome.
func (st *run) finish(ctx context.Context, runErr error) (*models.ExecutionTrace, error) {
	now := st.r.cfg.Now()
	st.trace.CompletedAt = &now
	st.trace.TotalDurationMs = now.Sub(st.started).Milliseconds()
	if st.trace.Status == models.TraceRunning {
		st.trace.Status = models.TraceFailed
	}

	if st.r.cfg.Traces != nil {
		if err := st.r.cfg.Traces.Save(ctx, st.trace); err != nil {
			st.r.cfg.Logger.Error("trace save failed", "trace_id", st.trace.ID, "error", err)
		}
	}

	if m := st.r.cfg.Metrics; m != nil {
		m.AgentRunCounter.WithLabelValues(st.in.ProjectID, string(st.trace.Status)).Inc()
		m.AgentRunDuration.WithLabelValues(st.in.ProjectID).Observe(now.Sub(st.started).Seconds())
	}

	st.emit(models.AgentStreamEvent{
		Type:     models.StreamAgentComplete,
		TraceID:  st.trace.ID,
		Response: st.lastText,
		Usage:    st.totalUsage,
		Status:   st.trace.Status,
	})

	st.r.cfg.Logger.Info("run finished",
		"trace_id", st.trace.ID,
		"project_id", st.in.ProjectID,
		"session_id", st.in.SessionID,
		"status", st.trace.Status,
		"turns", st.trace.TurnCount,
		"tokens", st.trace.TotalTokensUsed,
		"duration_ms", st.trace.TotalDurationMs,
	)
	return st.trace, runErr
}

// currentProvider is the provider serving this run's calls, accounting for
// failover.
func (st *run) currentProvider() provider.Provider {
	if st.failedOver && st.r.cfg.Fallback != nil {
		return st.r.cfg.Fallback
	}
	return st.r.cfg.Provider
}

func (st *run) providerName() string  { return st.currentProvider().Name() }

func (st *run) providerModel() string { return st.currentProvider().Model() }

func (st *run) emit(ev models.AgentStreamEvent) {
	if st.in.OnEvent != nil {
		st.in.OnEvent(ev)
	}
}

// emitError sends the error stream event at most once per run.
func (st *run) emitError(err error) {
	if st.errored {
		return
	}
	st.errored = true
	code := ""
	if fe, ok := fault.As(err); ok {
		code = string(fe.Code)
	}
	st.emit(models.AgentStreamEvent{
		Type:         models.StreamError,
		TraceID:      st.trace.ID,
		Turn:         st.turn,
		ErrorCode:    code,
		ErrorMessage: err.Error(),
	})
}

func (st *run) addErrorEvent(kind string, err error) {
	st.trace.AddEvent(models.TraceEvent{
		Type: models.TraceEventError,
		Turn: st.turn,
		Data: models.EventData(map[string]any{"error": kind, "message": err.Error()}),
	})
}
