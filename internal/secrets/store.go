package secrets

import (
	"context"
	"sort"
	"sync"

	"github.com/loomhq/loom/pkg/models"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.Secret
}

// NewMemoryStore creates an empty in-memory secret store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.Secret)}
}

func secretKey(projectID, key string) string { return projectID + "\x00" + key }

func cloneSecret(s *models.Secret) *models.Secret {
	clone := *s
	clone.Ciphertext = append([]byte{}, s.Ciphertext...)
	clone.IV = append([]byte{}, s.IV...)
	clone.AuthTag = append([]byte{}, s.AuthTag...)
	return &clone
}

func (m *MemoryStore) Put(ctx context.Context, s *models.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := secretKey(s.ProjectID, s.Key)
	clone := cloneSecret(s)
	if prior, ok := m.records[k]; ok {
		clone.CreatedAt = prior.CreatedAt
	}
	m.records[k] = clone
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, projectID, key string) (*models.Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.records[secretKey(projectID, key)]
	if !ok {
		return nil, nil
	}
	return cloneSecret(s), nil
}

func (m *MemoryStore) List(ctx context.Context, projectID string) ([]models.SecretMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.SecretMetadata
	for _, s := range m.records {
		if s.ProjectID != projectID {
			continue
		}
		out = append(out, models.SecretMetadata{
			ProjectID:   s.ProjectID,
			Key:         s.Key,
			Description: s.Description,
			CreatedAt:   s.CreatedAt,
			UpdatedAt:   s.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, projectID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, secretKey(projectID, key))
	return nil
}
