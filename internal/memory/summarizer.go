package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/loomhq/loom/internal/provider"
	"github.com/loomhq/loom/pkg/models"
)

const summaryPrompt = "Summarize the conversation below into a short factual digest. " +
	"Keep names, decisions, numbers, and open questions. Write plain prose, no preamble."

const summaryMaxTokens = 512

// ProviderSummarizer produces compaction summaries with a model call.
type ProviderSummarizer struct {
	provider provider.Provider
}

// NewProviderSummarizer wraps a provider as a Summarizer.
func NewProviderSummarizer(p provider.Provider) *ProviderSummarizer {
	return &ProviderSummarizer{provider: p}
}

// Summarize renders the messages as a transcript and asks the model for a
// digest. The stream is drained to completion; an incomplete stream is an
// error so a truncated summary never replaces real history.
func (s *ProviderSummarizer) Summarize(ctx context.Context, messages []models.Message) (string, error) {
	var transcript strings.Builder
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", msg.Role, msg.Content)
	}
	if transcript.Len() == 0 {
		return "", fmt.Errorf("nothing to summarize")
	}

	events, err := s.provider.Chat(ctx, &provider.ChatRequest{
		System: summaryPrompt,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: transcript.String()},
		},
		MaxTokens: summaryMaxTokens,
	})
	if err != nil {
		return "", err
	}

	var out strings.Builder
	ended := false
	for ev := range events {
		switch ev.Kind {
		case models.ChatContentDelta:
			out.WriteString(ev.Text)
		case models.ChatMessageEnd:
			ended = true
		case models.ChatError:
			return "", ev.Err
		}
	}
	if !ended {
		return "", fmt.Errorf("summary stream ended without completion")
	}
	return strings.TrimSpace(out.String()), nil
}
