// Package channels defines the channel adapter contract and the per-project
// resolver that instantiates adapters from stored integration config.
package channels

import (
	"context"
	"strings"

	"github.com/loomhq/loom/pkg/models"
)

// HandoffMarker is the token an agent emits to request escalation to a
// human operator. It is stripped before the reply is sent.
const HandoffMarker = "[HANDOFF]"

// Adapter is a per-project connection to one messaging channel.
type Adapter interface {
	// Provider returns the channel provider name ("telegram", "slack").
	Provider() string

	// Send delivers an outbound message and returns the channel-assigned
	// message identifier.
	Send(ctx context.Context, msg *models.OutboundMessage) (string, error)

	// Parse turns a raw webhook payload into an inbound message. It returns
	// (nil, nil) for events that carry no incoming user message.
	Parse(payload []byte) (*models.InboundMessage, error)

	// Handoff escalates a conversation to a human operator.
	Handoff(ctx context.Context, conversationID, reason string) error
}

// StripHandoff reports whether text carries the handoff marker and returns
// the text with the marker removed.
func StripHandoff(text string) (string, bool) {
	if !strings.Contains(text, HandoffMarker) {
		return text, false
	}
	return strings.TrimSpace(strings.ReplaceAll(text, HandoffMarker, "")), true
}

// escalationPhrases trigger a handoff before the agent ever runs.
var escalationPhrases = []string{
	"talk to a human",
	"speak to a human",
	"talk to a person",
	"speak to an agent",
	"human agent",
	"real person",
	"human operator",
}

// WantsEscalation reports whether an inbound message is an explicit request
// for a human.
func WantsEscalation(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range escalationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
