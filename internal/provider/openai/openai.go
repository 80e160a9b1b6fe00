// Package openai adapts the OpenAI chat completions API to the provider
// interface. Tool call arguments arrive as streamed JSON fragments that are
// accumulated per call index until the finish reason closes them out.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"

	sdk "github.com/sashabaranov/go-openai"

	"github.com/loomhq/loom/internal/provider"
	"github.com/loomhq/loom/pkg/models"
)

// Provider is the OpenAI-backed model provider.
type Provider struct {
	client  *sdk.Client
	model   string
	counter *provider.TokenCounter
	logger  *slog.Logger
}

// Config configures the provider.
type Config struct {
	// APIKey authenticates with the OpenAI API.
	APIKey string

	// Model is the model identifier, e.g. "gpt-4o".
	Model string

	// BaseURL overrides the API endpoint, for OpenAI-compatible gateways.
	BaseURL string

	// Logger for request events. Nil uses slog.Default.
	Logger *slog.Logger
}

// New creates an OpenAI provider.
func New(cfg Config) *Provider {
	clientCfg := sdk.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		client:  sdk.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		counter: provider.NewTokenCounter(cfg.Model),
		logger:  logger,
	}
}

func (p *Provider) Name() string          { return "openai" }
func (p *Provider) Model() string         { return p.model }
func (p *Provider) SupportsToolUse() bool { return true }
func (p *Provider) ContextWindow() int    { return provider.WindowFor(p.model) }

func (p *Provider) CountTokens(text string) int { return p.counter.Count(text) }

// Chat starts a streaming completion.
func (p *Provider) Chat(ctx context.Context, req *provider.ChatRequest) (<-chan models.ChatEvent, error) {
	chatReq := sdk.ChatCompletionRequest{
		Model:    p.model,
		Messages: p.convertMessages(req.Messages, req.System),
		Stream:   true,
		StreamOptions: &sdk.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, p.wrap(err)
	}

	events := make(chan models.ChatEvent)
	go p.pump(ctx, stream, events, req.TraceID)
	return events, nil
}

// pendingCall accumulates one tool call across stream chunks.
type pendingCall struct {
	id      string
	name    string
	args    strings.Builder
	started bool
}

func (p *Provider) pump(ctx context.Context, stream *sdk.ChatCompletionStream, events chan<- models.ChatEvent, traceID string) {
	defer close(events)
	defer stream.Close()

	emit := func(ev models.ChatEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var (
		started bool
		calls   = make(map[int]*pendingCall)
		order   []int
		usage   models.TokenUsage
		stop    = models.StopEndTurn
		ended   bool
	)

	flushCalls := func() bool {
		for _, idx := range order {
			pc := calls[idx]
			if pc.id == "" || pc.name == "" {
				continue
			}
			input := pc.args.String()
			if input == "" {
				input = "{}"
			}
			if !emit(models.ChatEvent{
				Kind:       models.ChatToolUseEnd,
				ToolCallID: pc.id,
				ToolName:   pc.name,
				Input:      json.RawMessage(input),
			}) {
				return false
			}
		}
		calls = make(map[int]*pendingCall)
		order = nil
		return true
	}

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !flushCalls() {
					return
				}
				if ended {
					emit(models.ChatEvent{Kind: models.ChatMessageEnd, StopReason: stop, Usage: usage})
				}
				// No finish reason seen: closed channel without
				// message_end marks the stream incomplete.
				return
			}
			fe := p.wrap(err)
			p.logger.Warn("openai stream failed", "trace_id", traceID, "error", err)
			emit(models.ChatEvent{Kind: models.ChatError, Err: fe})
			return
		}

		if !started {
			started = true
			if !emit(models.ChatEvent{Kind: models.ChatMessageStart}) {
				return
			}
		}

		if resp.Usage != nil {
			usage.InputTokens = resp.Usage.PromptTokens
			usage.OutputTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			if !emit(models.ChatEvent{Kind: models.ChatContentDelta, Text: delta.Content}) {
				return
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			pc := calls[idx]
			if pc == nil {
				pc = &pendingCall{}
				calls[idx] = pc
				order = append(order, idx)
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			if !pc.started && pc.id != "" && pc.name != "" {
				pc.started = true
				if !emit(models.ChatEvent{Kind: models.ChatToolUseStart, ToolCallID: pc.id, ToolName: pc.name}) {
					return
				}
			}
			if tc.Function.Arguments != "" {
				pc.args.WriteString(tc.Function.Arguments)
				if !emit(models.ChatEvent{
					Kind:       models.ChatToolUseDelta,
					ToolCallID: pc.id,
					Partial:    pc.args.String(),
				}) {
					return
				}
			}
		}

		switch choice.FinishReason {
		case sdk.FinishReasonToolCalls:
			stop = models.StopToolUse
			ended = true
			if !flushCalls() {
				return
			}
		case sdk.FinishReasonStop:
			stop = models.StopEndTurn
			ended = true
		case sdk.FinishReasonLength:
			stop = models.StopMaxTokens
			ended = true
		}
	}
}

func (p *Provider) wrap(err error) error {
	status := 0
	var apiErr *sdk.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatusCode
	}
	return provider.WrapError("openai", p.model, status, err)
}

func (p *Provider) convertMessages(messages []models.Message, system string) []sdk.ChatCompletionMessage {
	out := make([]sdk.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, sdk.ChatCompletionMessage{
			Role:    sdk.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			m := sdk.ChatCompletionMessage{
				Role:    sdk.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, sdk.ToolCall{
					ID:   tc.ID,
					Type: sdk.ToolTypeFunction,
					Function: sdk.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			out = append(out, m)
		case models.RoleTool, models.RoleUser:
			// Tool results each become a separate tool-role message.
			for _, tr := range msg.ToolResults {
				out = append(out, sdk.ChatCompletionMessage{
					Role:       sdk.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
			if msg.Content != "" {
				out = append(out, sdk.ChatCompletionMessage{
					Role:    sdk.ChatMessageRoleUser,
					Content: msg.Content,
				})
			}
		}
	}
	return out
}

func convertTools(tools []models.ToolDefinition) []sdk.Tool {
	out := make([]sdk.Tool, len(tools))
	for i, t := range tools {
		out[i] = sdk.Tool{
			Type: sdk.ToolTypeFunction,
			Function: &sdk.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(t.InputSchema),
			},
		}
	}
	return out
}
