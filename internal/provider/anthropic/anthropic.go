// Package anthropic adapts the Anthropic Messages API to the provider
// interface. Completions always stream; tool use arrives as SSE content
// blocks that are reassembled into complete tool calls.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/loomhq/loom/internal/provider"
	"github.com/loomhq/loom/pkg/models"
)

const defaultMaxTokens = 4096

// Provider is the Anthropic-backed model provider.
type Provider struct {
	client  sdk.Client
	model   string
	counter *provider.TokenCounter
	logger  *slog.Logger
}

// Config configures the provider.
type Config struct {
	// APIKey authenticates with the Anthropic API.
	APIKey string

	// Model is the model identifier, e.g. "claude-sonnet-4-20250514".
	Model string

	// BaseURL overrides the API endpoint. Empty means the default.
	BaseURL string

	// Logger for request events. Nil uses slog.Default.
	Logger *slog.Logger
}

// New creates an Anthropic provider.
func New(cfg Config) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		client:  sdk.NewClient(opts...),
		model:   cfg.Model,
		counter: provider.NewTokenCounter(cfg.Model),
		logger:  logger,
	}
}

func (p *Provider) Name() string          { return "anthropic" }
func (p *Provider) Model() string         { return p.model }
func (p *Provider) SupportsToolUse() bool { return true }
func (p *Provider) ContextWindow() int    { return provider.WindowFor(p.model) }

func (p *Provider) CountTokens(text string) int { return p.counter.Count(text) }

// Chat starts a streaming completion. Stream processing runs in a goroutine;
// the returned channel is closed when the stream terminates.
func (p *Provider) Chat(ctx context.Context, req *provider.ChatRequest) (<-chan models.ChatEvent, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		Messages:  convertMessages(req.Messages),
		MaxTokens: int64(defaultMaxTokens),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	events := make(chan models.ChatEvent)
	go p.pump(ctx, stream, events, req.TraceID)
	return events, nil
}

func (p *Provider) pump(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], events chan<- models.ChatEvent, traceID string) {
	defer close(events)

	var (
		toolID    string
		toolName  string
		toolInput strings.Builder
		usage     models.TokenUsage
		stop      models.StopReason
	)

	emit := func(ev models.ChatEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			usage.InputTokens = int(start.Message.Usage.InputTokens)
			if !emit(models.ChatEvent{Kind: models.ChatMessageStart}) {
				return
			}

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				tu := block.AsToolUse()
				toolID, toolName = tu.ID, tu.Name
				toolInput.Reset()
				if !emit(models.ChatEvent{Kind: models.ChatToolUseStart, ToolCallID: toolID, ToolName: toolName}) {
					return
				}
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !emit(models.ChatEvent{Kind: models.ChatContentDelta, Text: delta.Text}) {
						return
					}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInput.WriteString(delta.PartialJSON)
					if !emit(models.ChatEvent{
						Kind:       models.ChatToolUseDelta,
						ToolCallID: toolID,
						Partial:    toolInput.String(),
					}) {
						return
					}
				}
			}

		case "content_block_stop":
			if toolID != "" {
				input := toolInput.String()
				if input == "" {
					input = "{}"
				}
				if !emit(models.ChatEvent{
					Kind:       models.ChatToolUseEnd,
					ToolCallID: toolID,
					ToolName:   toolName,
					Input:      json.RawMessage(input),
				}) {
					return
				}
				toolID, toolName = "", ""
				toolInput.Reset()
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(delta.Usage.OutputTokens)
			}
			stop = mapStopReason(string(delta.Delta.StopReason))

		case "message_stop":
			emit(models.ChatEvent{Kind: models.ChatMessageEnd, StopReason: stop, Usage: usage})
			return

		case "error":
			err := provider.WrapError("anthropic", p.model, 0, errors.New("stream error event"))
			p.logger.Warn("anthropic stream error", "trace_id", traceID, "error", err)
			emit(models.ChatEvent{Kind: models.ChatError, Err: err})
			return
		}
	}

	if err := stream.Err(); err != nil {
		status := 0
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		fe := provider.WrapError("anthropic", p.model, status, err)
		p.logger.Warn("anthropic stream failed", "trace_id", traceID, "status", status, "error", err)
		emit(models.ChatEvent{Kind: models.ChatError, Err: fe})
		return
	}

	// Stream ended without message_stop or an error: the consumer sees a
	// closed channel with no message_end and treats the turn as incomplete.
}

func mapStopReason(reason string) models.StopReason {
	switch reason {
	case "tool_use":
		return models.StopToolUse
	case "max_tokens":
		return models.StopMaxTokens
	default:
		return models.StopEndTurn
	}
}

func convertMessages(messages []models.Message) []sdk.MessageParam {
	var out []sdk.MessageParam
	for _, msg := range messages {
		var content []sdk.ContentBlockParamUnion

		for _, tr := range msg.ToolResults {
			content = append(content, sdk.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		if msg.Content != "" {
			content = append(content, sdk.NewTextBlock(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			var input any
			if len(tc.Input) > 0 {
				_ = json.Unmarshal(tc.Input, &input)
			}
			content = append(content, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		switch msg.Role {
		case models.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(content...))
		default:
			// Tool results travel as user messages on this API.
			out = append(out, sdk.NewUserMessage(content...))
		}
	}
	return out
}

func convertTools(tools []models.ToolDefinition) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema sdk.ToolInputSchemaParam
		if len(t.InputSchema) > 0 {
			_ = json.Unmarshal(t.InputSchema, &schema)
		}
		param := sdk.ToolUnionParamOfTool(schema, t.Name)
		if t.Description != "" {
			param.OfTool.Description = sdk.String(t.Description)
		}
		out = append(out, param)
	}
	return out
}
