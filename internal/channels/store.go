package channels

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

// IntegrationStore persists channel integrations. At most one integration
// exists per (project, provider).
type IntegrationStore interface {
	Put(ctx context.Context, ci *models.ChannelIntegration) error
	Get(ctx context.Context, projectID, provider string) (*models.ChannelIntegration, error)
	Delete(ctx context.Context, projectID, provider string) error
	List(ctx context.Context, projectID string) ([]*models.ChannelIntegration, error)
}

// MemoryIntegrationStore is an in-memory IntegrationStore.
type MemoryIntegrationStore struct {
	mu           sync.RWMutex
	integrations map[string]*models.ChannelIntegration
}

// NewMemoryIntegrationStore creates an empty in-memory integration store.
func NewMemoryIntegrationStore() *MemoryIntegrationStore {
	return &MemoryIntegrationStore{integrations: make(map[string]*models.ChannelIntegration)}
}

func integrationKey(projectID, provider string) string { return projectID + "\x00" + provider }

func cloneIntegration(ci *models.ChannelIntegration) *models.ChannelIntegration {
	clone := *ci
	clone.Config = append([]byte{}, ci.Config...)
	return &clone
}

func (s *MemoryIntegrationStore) Put(ctx context.Context, ci *models.ChannelIntegration) error {
	if ci.ProjectID == "" || ci.Provider == "" {
		return fault.New(fault.CodeValidation, "integration project_id and provider are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := cloneIntegration(ci)
	clone.UpdatedAt = time.Now()
	s.integrations[integrationKey(ci.ProjectID, ci.Provider)] = clone
	return nil
}

func (s *MemoryIntegrationStore) Get(ctx context.Context, projectID, provider string) (*models.ChannelIntegration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ci, ok := s.integrations[integrationKey(projectID, provider)]
	if !ok {
		return nil, nil
	}
	return cloneIntegration(ci), nil
}

func (s *MemoryIntegrationStore) Delete(ctx context.Context, projectID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.integrations, integrationKey(projectID, provider))
	return nil
}

func (s *MemoryIntegrationStore) List(ctx context.Context, projectID string) ([]*models.ChannelIntegration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ChannelIntegration
	for _, ci := range s.integrations {
		if ci.ProjectID == projectID {
			out = append(out, cloneIntegration(ci))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}
