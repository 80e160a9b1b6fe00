package approval

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loomhq/loom/pkg/models"
)

// MemoryStore is a thread-safe in-memory Store for tests and single-node
// dev deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.Approval
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*models.Approval)}
}

// Create stores an approval request.
func (s *MemoryStore) Create(ctx context.Context, a *models.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *a
	s.requests[a.ID] = &clone
	return nil
}

// Get returns an approval by ID, or nil when absent.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	clone := *a
	return &clone, nil
}

// Update replaces a stored approval.
func (s *MemoryStore) Update(ctx context.Context, a *models.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *a
	s.requests[a.ID] = &clone
	return nil
}

// List returns approvals for a project, newest first. An empty status
// matches all; an empty projectID matches all projects.
func (s *MemoryStore) List(ctx context.Context, projectID string, status models.ApprovalStatus) ([]*models.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Approval
	for _, a := range s.requests {
		if projectID != "" && a.ProjectID != projectID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		clone := *a
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out, nil
}

// Prune removes requests older than the given duration and returns the
// count removed.
func (s *MemoryStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var pruned int64
	for id, a := range s.requests {
		if a.RequestedAt.Before(cutoff) {
			delete(s.requests, id)
			pruned++
		}
	}
	return pruned, nil
}
