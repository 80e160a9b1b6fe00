// Package memory implements the memory manager: context-window fitting,
// compaction of pruned history, and long-term semantic retrieval.
package memory

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/pkg/models"
)

const (
	defaultTopK         = 5
	defaultHalfLifeDays = 30
	// overfetchFactor widens the store search so re-ranking by importance
	// and recency has candidates beyond the raw similarity cut.
	overfetchFactor = 3
)

// Summarizer produces a compaction summary for a dropped message range.
type Summarizer interface {
	Summarize(ctx context.Context, messages []models.Message) (string, error)
}

// Manager coordinates fitting, compaction, and long-term memory for one
// project configuration.
type Manager struct {
	cfg      models.MemoryConfig
	store    Store
	embedder Embedder
	logger   *slog.Logger
}

// NewManager creates a manager. A nil embedder disables vector retrieval:
// Retrieve returns empty and stored entries carry no embedding.
func NewManager(cfg models.MemoryConfig, store Store, embedder Embedder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, store: store, embedder: embedder, logger: logger}
}

// Fit reduces messages to the provider's context window per the configured
// pruning strategy.
func (m *Manager) Fit(messages []models.Message, contextWindow int, count TokenCountFunc) FitResult {
	return FitContext(messages, contextWindow, m.cfg.ContextWindow, count)
}

// RetrieveOptions scope a retrieval.
type RetrieveOptions struct {
	// TopK caps the number of results. Zero uses the configured default.
	TopK int

	// SessionID, when set, restricts results to one session.
	SessionID string
}

// Retrieved is one ranked retrieval result.
type Retrieved struct {
	Entry *models.MemoryEntry
	Score float64
}

// Retrieve returns long-term memories ranked by similarity, importance, and
// recency decay. It returns empty without error when long-term memory is
// disabled or no embedder is configured.
func (m *Manager) Retrieve(ctx context.Context, projectID, query string, opts RetrieveOptions) ([]Retrieved, error) {
	if !m.cfg.LongTerm.Enabled || m.embedder == nil || m.store == nil {
		return nil, nil
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = m.cfg.LongTerm.RetrievalTopK
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	vector, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	scored, err := m.store.Search(ctx, projectID, opts.SessionID, vector, topK*overfetchFactor)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]Retrieved, 0, len(scored))
	for _, s := range scored {
		if s.Similarity <= 0 {
			continue
		}
		out = append(out, Retrieved{
			Entry: s.Entry,
			Score: s.Similarity * s.Entry.Importance * m.decay(s.Entry.CreatedAt, now),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}

	if len(out) > 0 {
		ids := make([]string, len(out))
		for i, r := range out {
			ids[i] = r.Entry.ID
		}
		if err := m.store.Touch(ctx, ids, now); err != nil {
			m.logger.Warn("memory touch failed", "project_id", projectID, "error", err)
		}
	}
	return out, nil
}

func (m *Manager) decay(createdAt, now time.Time) float64 {
	if !m.cfg.LongTerm.DecayEnabled {
		return 1
	}
	halfLife := m.cfg.LongTerm.DecayHalfLifeDays
	if halfLife <= 0 {
		halfLife = defaultHalfLifeDays
	}
	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays <= 0 {
		return 1
	}
	return math.Pow(0.5, ageDays/halfLife)
}

// StoreInput describes a memory to persist.
type StoreInput struct {
	SessionID  string
	Content    string
	Category   string
	Importance float64
	Metadata   map[string]string
	ExpiresAt  *time.Time
}

// StoreMemory persists a long-term memory entry. Without an embedder the
// text is stored with no vector, so it never surfaces via Retrieve.
func (m *Manager) StoreMemory(ctx context.Context, projectID string, in StoreInput) (*models.MemoryEntry, error) {
	if !m.cfg.LongTerm.Enabled || m.store == nil {
		return nil, nil
	}
	importance := in.Importance
	if importance <= 0 {
		importance = 0.5
	}
	if importance > 1 {
		importance = 1
	}
	now := time.Now()
	entry := &models.MemoryEntry{
		ID:             "mem_" + uuid.NewString(),
		ProjectID:      projectID,
		SessionID:      in.SessionID,
		Category:       in.Category,
		Content:        in.Content,
		Importance:     importance,
		LastAccessedAt: now,
		CreatedAt:      now,
		ExpiresAt:      in.ExpiresAt,
		Metadata:       in.Metadata,
	}
	if m.embedder != nil {
		vector, err := m.embedder.Embed(ctx, in.Content)
		if err != nil {
			m.logger.Warn("embedding failed, storing text only",
				"project_id", projectID, "error", err)
		} else {
			entry.Embedding = vector
		}
	}
	if err := m.store.Insert(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
