// Package slack implements the Slack channel adapter on top of the Events
// API webhook payloads.
package slack

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/loomhq/loom/internal/channels"
	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

// Provider is the channel provider name.
const Provider = "slack"

// integrationConfig is the slack variant of ChannelIntegration.Config. It
// references the bot token by secret key, never by value.
type integrationConfig struct {
	BotTokenSecret string `json:"bot_token_secret"`
}

// Adapter sends and parses Slack messages for one project.
type Adapter struct {
	projectID string
	client    *slack.Client
}

// Builder constructs slack adapters for the channel resolver.
func Builder(ctx context.Context, ci *models.ChannelIntegration, secrets channels.SecretGetter) (channels.Adapter, error) {
	var cfg integrationConfig
	if err := json.Unmarshal(ci.Config, &cfg); err != nil {
		return nil, fault.Wrap(fault.CodeConfig, err, "slack integration config is malformed")
	}
	if cfg.BotTokenSecret == "" {
		return nil, fault.New(fault.CodeConfig, "slack integration is missing bot_token_secret")
	}
	token, err := secrets.Get(ctx, ci.ProjectID, cfg.BotTokenSecret)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fault.New(fault.CodeConfig, "secret %q is not set for project %q", cfg.BotTokenSecret, ci.ProjectID)
	}
	return &Adapter{projectID: ci.ProjectID, client: slack.New(token)}, nil
}

func (a *Adapter) Provider() string { return Provider }

// Send posts text to a channel. The conversation ID is the Slack channel ID
// and the returned message identifier is the message timestamp.
func (a *Adapter) Send(ctx context.Context, msg *models.OutboundMessage) (string, error) {
	_, timestamp, err := a.client.PostMessageContext(ctx, msg.ConversationID,
		slack.MsgOptionText(msg.Text, false))
	if err != nil {
		return "", fault.Wrap(fault.CodeProviderError, err, "slack send failed")
	}
	return timestamp, nil
}

// Parse extracts the user message from an Events API callback. Bot echoes,
// message edits, and non-message events yield (nil, nil).
func (a *Adapter) Parse(payload []byte) (*models.InboundMessage, error) {
	event, err := slackevents.ParseEvent(json.RawMessage(payload), slackevents.OptionNoVerifyToken())
	if err != nil {
		return nil, fault.Wrap(fault.CodeValidation, err, "slack event payload is malformed")
	}
	if event.Type != slackevents.CallbackEvent {
		return nil, nil
	}
	msg, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok || msg.Text == "" || msg.BotID != "" || msg.SubType != "" {
		return nil, nil
	}

	return &models.InboundMessage{
		ProjectID:      a.projectID,
		Provider:       Provider,
		SenderID:       msg.User,
		ConversationID: msg.Channel,
		Text:           msg.Text,
		ReceivedAt:     parseSlackTimestamp(msg.TimeStamp),
	}, nil
}

// Handoff notifies the channel that a human is taking over.
func (a *Adapter) Handoff(ctx context.Context, conversationID, reason string) error {
	_, err := a.Send(ctx, &models.OutboundMessage{
		ConversationID: conversationID,
		Text:           "Connecting you with a human operator. Someone will be with you shortly.",
	})
	return err
}

// parseSlackTimestamp converts a "seconds.sequence" event timestamp.
func parseSlackTimestamp(ts string) time.Time {
	seconds, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(seconds, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(n, 0)
}
