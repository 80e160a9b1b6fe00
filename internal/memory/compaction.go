package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/pkg/models"
)

// minFlushContentLength skips trivial messages during the pre-compaction
// memory flush.
const minFlushContentLength = 10

// Compact summarizes a dropped message range when the fit removed more than
// the configured fraction of prior turns. On compaction the returned slice
// starts with a synthetic system message carrying the summary, followed by
// the fitted suffix. When compaction does not trigger, the fitted messages
// are returned unchanged.
func (m *Manager) Compact(ctx context.Context, projectID string, fit FitResult, summarizer Summarizer) ([]models.Message, bool, error) {
	cfg := m.cfg.ContextWindow.Compaction
	if !cfg.Enabled || summarizer == nil || fit.DroppedTurns == 0 || fit.TotalTurns == 0 {
		return fit.Messages, false, nil
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 0.5
	}
	if float64(fit.DroppedTurns)/float64(fit.TotalTurns) <= threshold {
		return fit.Messages, false, nil
	}

	if cfg.MemoryFlushBeforeCompaction {
		// Silently a no-op when long-term memory is disabled.
		m.flushFacts(ctx, projectID, fit.Dropped)
	}

	summary, err := summarizer.Summarize(ctx, fit.Dropped)
	if err != nil {
		return fit.Messages, false, err
	}

	entry := models.Message{
		ID:        "msg_" + uuid.NewString(),
		Role:      models.RoleSystem,
		Content:   "Summary of earlier conversation: " + summary,
		CreatedAt: time.Now(),
	}
	out := make([]models.Message, 0, len(fit.Messages)+1)
	out = append(out, entry)
	out = append(out, fit.Messages...)
	return out, true, nil
}

// flushFacts promotes dropped user statements to long-term memory before
// their text is replaced by a summary.
func (m *Manager) flushFacts(ctx context.Context, projectID string, dropped []models.Message) {
	for _, msg := range dropped {
		if msg.Role != models.RoleUser {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if len(content) < minFlushContentLength {
			continue
		}
		if _, err := m.StoreMemory(ctx, projectID, StoreInput{
			SessionID:  msg.SessionID,
			Content:    content,
			Category:   "compaction",
			Importance: 0.6,
		}); err != nil {
			m.logger.Warn("compaction memory flush failed", "session_id", msg.SessionID, "error", err)
		}
	}
}
