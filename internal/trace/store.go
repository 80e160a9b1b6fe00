// Package trace persists execution traces, the append-only audit record of
// every agent run.
package trace

import (
	"context"
	"sort"
	"sync"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

// Store is the source of truth for run audit. Events are append-only and
// linearly ordered within a trace; readers may observe a partial event list
// but never a reordered one.
type Store interface {
	// Create persists a new trace.
	Create(ctx context.Context, t *models.ExecutionTrace) error

	// FindByID returns a trace, or nil when absent.
	FindByID(ctx context.Context, id string) (*models.ExecutionTrace, error)

	// Update overwrites the trace's scalar fields and event list.
	Update(ctx context.Context, t *models.ExecutionTrace) error

	// AddEvents appends events to the trace. Appending an empty slice is a
	// no-op.
	AddEvents(ctx context.Context, id string, events []models.TraceEvent) error

	// ListBySession returns the session's traces, oldest first.
	ListBySession(ctx context.Context, sessionID string) ([]*models.ExecutionTrace, error)

	// ListByProject returns the project's most recent traces, newest first.
	ListByProject(ctx context.Context, projectID string, limit int) ([]*models.ExecutionTrace, error)

	// Save upserts a full trace.
	Save(ctx context.Context, t *models.ExecutionTrace) error
}

// MemoryStore is an in-memory Store for tests and dev mode.
type MemoryStore struct {
	mu     sync.RWMutex
	traces map[string]*models.ExecutionTrace
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{traces: make(map[string]*models.ExecutionTrace)}
}

func cloneTrace(t *models.ExecutionTrace) *models.ExecutionTrace {
	clone := *t
	clone.Events = make([]models.TraceEvent, len(t.Events))
	copy(clone.Events, t.Events)
	return &clone
}

func (s *MemoryStore) Create(ctx context.Context, t *models.ExecutionTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.traces[t.ID]; exists {
		return fault.New(fault.CodeValidation, "trace %q already exists", t.ID)
	}
	s.traces[t.ID] = cloneTrace(t)
	return nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (*models.ExecutionTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.traces[id]
	if !ok {
		return nil, nil
	}
	return cloneTrace(t), nil
}

func (s *MemoryStore) Update(ctx context.Context, t *models.ExecutionTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.traces[t.ID]; !ok {
		return fault.New(fault.CodeValidation, "trace %q not found", t.ID)
	}
	s.traces[t.ID] = cloneTrace(t)
	return nil
}

func (s *MemoryStore) AddEvents(ctx context.Context, id string, events []models.TraceEvent) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.traces[id]
	if !ok {
		return fault.New(fault.CodeValidation, "trace %q not found", id)
	}
	t.Events = append(t.Events, events...)
	return nil
}

func (s *MemoryStore) ListBySession(ctx context.Context, sessionID string) ([]*models.ExecutionTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ExecutionTrace
	for _, t := range s.traces {
		if t.SessionID == sessionID {
			out = append(out, cloneTrace(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListByProject(ctx context.Context, projectID string, limit int) ([]*models.ExecutionTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ExecutionTrace
	for _, t := range s.traces {
		if t.ProjectID == projectID {
			out = append(out, cloneTrace(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Save(ctx context.Context, t *models.ExecutionTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces[t.ID] = cloneTrace(t)
	return nil
}
