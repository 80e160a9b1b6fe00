// Package projects persists the tenant records that own every other entity.
package projects

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

// Store persists projects.
type Store interface {
	// Create persists a new project. The agent config's project ID must
	// match the project's.
	Create(ctx context.Context, p *models.Project) error

	// Get returns a project by ID, or nil when absent.
	Get(ctx context.Context, id string) (*models.Project, error)

	// Update overwrites a project.
	Update(ctx context.Context, p *models.Project) error

	// Delete removes a project. Callers must verify the project is
	// childless first; the store does not cascade.
	Delete(ctx context.Context, id string) error

	// List returns all projects ordered by creation time.
	List(ctx context.Context) ([]*models.Project, error)
}

// Validate checks the cross-field invariants of a project record.
func Validate(p *models.Project) error {
	if p.ID == "" {
		return fault.New(fault.CodeValidation, "project id is required")
	}
	if p.Name == "" {
		return fault.New(fault.CodeValidation, "project name is required")
	}
	if p.AgentConfig.ProjectID != p.ID {
		return fault.New(fault.CodeValidation, "agent config project id %q does not match project %q", p.AgentConfig.ProjectID, p.ID)
	}
	return nil
}

// MemoryStore is an in-memory Store for tests and dev mode.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]*models.Project
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{projects: make(map[string]*models.Project)}
}

func (s *MemoryStore) Create(ctx context.Context, p *models.Project) error {
	if err := Validate(p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[p.ID]; exists {
		return fault.New(fault.CodeValidation, "project %q already exists", p.ID)
	}
	clone := *p
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt
	s.projects[p.ID] = &clone
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, nil
	}
	clone := *p
	return &clone, nil
}

func (s *MemoryStore) Update(ctx context.Context, p *models.Project) error {
	if err := Validate(p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; !ok {
		return fault.New(fault.CodeValidation, "project %q not found", p.ID)
	}
	clone := *p
	clone.UpdatedAt = time.Now()
	s.projects[p.ID] = &clone
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return fault.New(fault.CodeValidation, "project %q not found", id)
	}
	delete(s.projects, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Project, 0, len(s.projects))
	for _, p := range s.projects {
		clone := *p
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
