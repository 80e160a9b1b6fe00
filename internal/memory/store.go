package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/loomhq/loom/pkg/models"
)

// Store persists long-term memory entries. Implementations hold vectors
// alongside the text when an embedder produced one.
type Store interface {
	// Insert stores an entry.
	Insert(ctx context.Context, entry *models.MemoryEntry) error

	// Search returns up to limit entries for the project scored against the
	// query vector, best first. Entries without embeddings score zero
	// similarity. A non-empty sessionID restricts results to that session.
	Search(ctx context.Context, projectID, sessionID string, vector []float32, limit int) ([]*ScoredEntry, error)

	// Touch bumps access tracking after a retrieval.
	Touch(ctx context.Context, ids []string, at time.Time) error

	// Count returns the number of entries for a project.
	Count(ctx context.Context, projectID string) (int, error)

	// DeleteExpired removes entries whose ExpiresAt has passed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// ScoredEntry pairs an entry with its raw cosine similarity.
type ScoredEntry struct {
	Entry      *models.MemoryEntry
	Similarity float64
}

// CosineSimilarity computes the cosine similarity of two vectors. Mismatched
// or empty vectors score zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MemoryStore is an in-memory Store for tests and single-node deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*models.MemoryEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*models.MemoryEntry)}
}

func (s *MemoryStore) Insert(ctx context.Context, entry *models.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *entry
	s.entries[entry.ID] = &clone
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, projectID, sessionID string, vector []float32, limit int) ([]*ScoredEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var out []*ScoredEntry
	for _, e := range s.entries {
		if e.ProjectID != projectID {
			continue
		}
		if sessionID != "" && e.SessionID != sessionID {
			continue
		}
		if e.ExpiresAt != nil && e.ExpiresAt.Before(now) {
			continue
		}
		clone := *e
		out = append(out, &ScoredEntry{
			Entry:      &clone,
			Similarity: CosineSimilarity(vector, e.Embedding),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Touch(ctx context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			e.AccessCount++
			e.LastAccessedAt = at
		}
	}
	return nil
}

func (s *MemoryStore) Count(ctx context.Context, projectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.ProjectID == projectID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if e.ExpiresAt != nil && e.ExpiresAt.Before(now) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}
