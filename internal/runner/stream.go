package runner

import (
	"context"
	"strings"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/internal/provider"
	"github.com/loomhq/loom/internal/tools"
	"github.com/loomhq/loom/pkg/models"
)

// modelTurn performs one model call, including the single failover retry.
// memorySection, when non-empty, is appended to the system prompt for this
// turn only.
func (st *run) modelTurn(ctx context.Context, messages []models.Message, memorySection string) (string, []models.ToolCall, models.TokenUsage, error) {
	var defs []models.ToolDefinition
	if st.r.cfg.Registry != nil {
		defs = st.r.cfg.Registry.FormatForProvider(&tools.ExecContext{
			ProjectID:    st.in.ProjectID,
			AllowedTools: st.in.AgentConfig.AllowedTools,
		})
	}
	system := st.in.SystemPrompt
	if memorySection != "" {
		system += "\n\n" + memorySection
	}
	req := &provider.ChatRequest{
		Messages:  messages,
		System:    system,
		Tools:     defs,
		MaxTokens: st.in.AgentConfig.CostConfig.MaxTokensPerTurn,
		TraceID:   st.trace.ID,
	}

	st.trace.AddEvent(models.TraceEvent{
		Type: models.TraceEventLLMRequest,
		Turn: st.turn,
		Data: models.EventData(map[string]any{
			"provider": st.providerName(),
			"model":    st.providerModel(),
			"messages": len(messages),
			"tools":    len(defs),
		}),
	})

	text, calls, usage, err := st.consume(ctx, st.r.cfg.Provider, req)
	if err == nil || fault.Is(err, fault.CodeAborted) {
		return text, calls, usage, err
	}

	reason, eligible := st.failoverReason(err)
	if !eligible || st.failedOver || st.r.cfg.Fallback == nil {
		return "", nil, models.TokenUsage{}, err
	}

	st.failedOver = true
	st.trace.AddEvent(models.TraceEvent{
		Type: models.TraceEventFailover,
		Turn: st.turn,
		Data: models.EventData(map[string]any{
			"from":   st.r.cfg.Provider.Name(),
			"to":     st.r.cfg.Fallback.Name(),
			"reason": reason,
		}),
	})
	st.r.cfg.Logger.Warn("provider failover",
		"trace_id", st.trace.ID,
		"from", st.r.cfg.Provider.Name(),
		"to", st.r.cfg.Fallback.Name(),
		"reason", reason,
	)
	return st.consume(ctx, st.r.cfg.Fallback, req)
}

// failoverReason classifies err and reports whether the project's failover
// policy covers it. Raw (non-fault) provider errors classify by message,
// matching how upstream SDKs word their failures.
func (st *run) failoverReason(err error) (string, bool) {
	policy := st.in.AgentConfig.Failover

	code := fault.CodeOf(err)
	reason := provider.ReasonOf(err)
	if reason == provider.ReasonUnknown {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "rate limit"):
			reason = provider.ReasonRateLimit
		case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
			reason = provider.ReasonTimeout
		case strings.Contains(msg, "server error"), strings.Contains(msg, "overloaded"), strings.Contains(msg, "internal error"):
			reason = provider.ReasonServerError
		}
	}

	switch {
	case (code == fault.CodeRateLimitExceeded || reason == provider.ReasonRateLimit) && policy.OnRateLimit:
		return string(fault.CodeRateLimitExceeded), true
	case (code == fault.CodeTimeout || reason == provider.ReasonTimeout) && policy.OnTimeout:
		return string(fault.CodeTimeout), true
	case reason == provider.ReasonServerError && policy.OnServerError:
		return string(fault.CodeProviderError), true
	}
	return "", false
}

// consume drains one provider stream, forwarding content deltas to the
// subscriber. Cancellation is observed between events. A stream that closes
// without message_end is STREAM_INCOMPLETE.
func (st *run) consume(ctx context.Context, p provider.Provider, req *provider.ChatRequest) (string, []models.ToolCall, models.TokenUsage, error) {
	events, err := p.Chat(ctx, req)
	if err != nil {
		return "", nil, models.TokenUsage{}, err
	}

	var (
		text  strings.Builder
		calls []models.ToolCall
		usage models.TokenUsage
		ended bool
	)
	for {
		select {
		case <-ctx.Done():
			return "", nil, models.TokenUsage{}, fault.Wrap(fault.CodeAborted, ctx.Err(), "run cancelled mid-stream")
		case ev, ok := <-events:
			if !ok {
				if !ended {
					return "", nil, models.TokenUsage{}, fault.New(fault.CodeStreamIncomplete, "%s stream ended without message_end", p.Name())
				}
				return text.String(), calls, usage, nil
			}
			switch ev.Kind {
			case models.ChatContentDelta:
				text.WriteString(ev.Text)
				st.emit(models.AgentStreamEvent{
					Type:    models.StreamContentDelta,
					TraceID: st.trace.ID,
					Turn:    st.turn,
					Text:    ev.Text,
				})
			case models.ChatToolUseEnd:
				calls = append(calls, models.ToolCall{
					ID:    ev.ToolCallID,
					Name:  ev.ToolName,
					Input: ev.Input,
				})
			case models.ChatMessageEnd:
				usage = ev.Usage
				ended = true
			case models.ChatError:
				if fe, ok := fault.As(ev.Err); ok {
					return "", nil, models.TokenUsage{}, fe
				}
				return "", nil, models.TokenUsage{}, fault.Wrap(fault.CodeProviderError, ev.Err, "%s stream error", p.Name())
			}
		}
	}
}
