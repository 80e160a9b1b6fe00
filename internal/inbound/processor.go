// Package inbound turns parsed channel messages into agent runs: contact
// resolution, session mapping, dispatch, and reply delivery.
package inbound

import (
	"context"
	"log/slog"

	"github.com/loomhq/loom/internal/channels"
	"github.com/loomhq/loom/internal/contacts"
	"github.com/loomhq/loom/internal/prompt"
	"github.com/loomhq/loom/internal/runner"
	"github.com/loomhq/loom/pkg/models"
)

// ErrorPrefix is prepended to runner failures so callers can correlate.
const ErrorPrefix = "agent_error: "

// AgentRunner is the slice of the runner host the processor needs.
type AgentRunner interface {
	RunChat(ctx context.Context, req *runner.ChatRequest) (*runner.ChatResult, error)
}

// AdapterResolver is the slice of the channel resolver the processor needs.
type AdapterResolver interface {
	Resolve(ctx context.Context, projectID, provider string) (channels.Adapter, error)
}

// Result is the outcome of processing one inbound message.
type Result struct {
	// Success reports whether a reply was produced and delivered.
	Success bool `json:"success"`

	// ChannelMessageID is the channel-assigned ID of the delivered reply.
	ChannelMessageID string `json:"channel_message_id,omitempty"`

	// HandedOff reports whether the conversation was escalated to a human.
	HandedOff bool `json:"handed_off,omitempty"`

	// Error carries the failure reason, prefixed with ErrorPrefix.
	Error string `json:"error,omitempty"`
}

// Processor wires contacts, sessions, the agent host, and channel delivery.
type Processor struct {
	contacts contacts.Store
	agent    AgentRunner
	resolver AdapterResolver
	logger   *slog.Logger
}

// NewProcessor creates an inbound processor.
func NewProcessor(contactStore contacts.Store, agent AgentRunner, resolver AdapterResolver, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{contacts: contactStore, agent: agent, resolver: resolver, logger: logger}
}

// SessionIDFor derives the deterministic session ID for a conversation so
// webhook retries converge on the same session.
func SessionIDFor(conversationID string) string {
	return "cw-" + conversationID
}

// Process runs the agent for one inbound message and delivers the reply.
// Runner failures are returned as Success=false with a stable error prefix;
// the returned error is reserved for infrastructure failures the caller may
// retry.
func (p *Processor) Process(ctx context.Context, msg *models.InboundMessage) (*Result, error) {
	contact, err := contacts.Resolve(ctx, p.contacts, msg.ProjectID, msg.Provider, msg.SenderID, msg.SenderName)
	if err != nil {
		return nil, err
	}

	adapter, err := p.resolver.Resolve(ctx, msg.ProjectID, msg.Provider)
	if err != nil {
		return nil, err
	}

	result, err := p.agent.RunChat(ctx, &runner.ChatRequest{
		ProjectID: msg.ProjectID,
		SessionID: SessionIDFor(msg.ConversationID),
		ContactID: contact.ID,
		Message:   msg.Text,
		Runtime: prompt.RuntimeContext{
			ContactName: contact.Name,
			Channel:     msg.Provider,
			Language:    contact.Language,
		},
	})
	if err != nil {
		p.logger.Error("agent run failed",
			"project_id", msg.ProjectID, "conversation_id", msg.ConversationID, "error", err)
		return &Result{Success: false, Error: ErrorPrefix + err.Error()}, nil
	}
	if result.Response == "" {
		return &Result{Success: true}, nil
	}

	text, handoff := channels.StripHandoff(result.Response)

	var channelMessageID string
	if adapter != nil && text != "" {
		channelMessageID, err = adapter.Send(ctx, &models.OutboundMessage{
			ConversationID: msg.ConversationID,
			Text:           text,
		})
		if err != nil {
			return nil, err
		}
	}
	if handoff && adapter != nil {
		if err := adapter.Handoff(ctx, msg.ConversationID, "agent requested escalation"); err != nil {
			return nil, err
		}
	}

	return &Result{Success: true, ChannelMessageID: channelMessageID, HandedOff: handoff}, nil
}
