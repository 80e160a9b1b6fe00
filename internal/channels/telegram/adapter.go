// Package telegram implements the Telegram channel adapter on top of the
// Bot API webhook payloads.
package telegram

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/loomhq/loom/internal/channels"
	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

// Provider is the channel provider name.
const Provider = "telegram"

// integrationConfig is the telegram variant of ChannelIntegration.Config.
// It references the bot token by secret key, never by value.
type integrationConfig struct {
	BotTokenSecret string `json:"bot_token_secret"`
}

// Adapter sends and parses Telegram messages for one project.
type Adapter struct {
	projectID string
	client    *bot.Bot
}

// Builder constructs telegram adapters for the channel resolver.
func Builder(ctx context.Context, ci *models.ChannelIntegration, secrets channels.SecretGetter) (channels.Adapter, error) {
	var cfg integrationConfig
	if err := json.Unmarshal(ci.Config, &cfg); err != nil {
		return nil, fault.Wrap(fault.CodeConfig, err, "telegram integration config is malformed")
	}
	if cfg.BotTokenSecret == "" {
		return nil, fault.New(fault.CodeConfig, "telegram integration is missing bot_token_secret")
	}
	token, err := secrets.Get(ctx, ci.ProjectID, cfg.BotTokenSecret)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fault.New(fault.CodeConfig, "secret %q is not set for project %q", cfg.BotTokenSecret, ci.ProjectID)
	}

	client, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fault.Wrap(fault.CodeConfig, err, "telegram client init failed")
	}
	return &Adapter{projectID: ci.ProjectID, client: client}, nil
}

func (a *Adapter) Provider() string { return Provider }

// Send delivers text to a chat. The conversation ID is the chat ID.
func (a *Adapter) Send(ctx context.Context, msg *models.OutboundMessage) (string, error) {
	chatID, err := strconv.ParseInt(msg.ConversationID, 10, 64)
	if err != nil {
		return "", fault.Wrap(fault.CodeValidation, err, "telegram conversation id %q is not a chat id", msg.ConversationID)
	}
	sent, err := a.client.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   msg.Text,
	})
	if err != nil {
		return "", fault.Wrap(fault.CodeProviderError, err, "telegram send failed")
	}
	return strconv.Itoa(sent.ID), nil
}

// Parse extracts the user message from a webhook update. Edited messages,
// bot echoes, and service updates yield (nil, nil).
func (a *Adapter) Parse(payload []byte) (*models.InboundMessage, error) {
	var update tgmodels.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		return nil, fault.Wrap(fault.CodeValidation, err, "telegram update payload is malformed")
	}
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return nil, nil
	}
	if msg.From != nil && msg.From.IsBot {
		return nil, nil
	}

	inbound := &models.InboundMessage{
		ProjectID:      a.projectID,
		Provider:       Provider,
		ConversationID: strconv.FormatInt(msg.Chat.ID, 10),
		Text:           msg.Text,
		ReceivedAt:     time.Unix(int64(msg.Date), 0),
	}
	if msg.From != nil {
		inbound.SenderID = strconv.FormatInt(msg.From.ID, 10)
		inbound.SenderName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	}
	return inbound, nil
}

// Handoff notifies the chat that a human is taking over.
func (a *Adapter) Handoff(ctx context.Context, conversationID, reason string) error {
	_, err := a.Send(ctx, &models.OutboundMessage{
		ConversationID: conversationID,
		Text:           "Connecting you with a human operator. Someone will be with you shortly.",
	})
	return err
}
