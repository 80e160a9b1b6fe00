// Package prompt assembles the system prompt from versioned layers and
// captures an immutable snapshot of the inputs for each run.
package prompt

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

// LayerStore persists prompt layers. At most one layer per (project, kind)
// is active at a time; activating a layer deactivates its predecessor.
type LayerStore interface {
	// Create persists a new layer version.
	Create(ctx context.Context, layer *models.PromptLayer) error

	// Get returns a layer by ID, or nil when absent.
	Get(ctx context.Context, id string) (*models.PromptLayer, error)

	// Activate marks the layer active and deactivates the project's other
	// layers of the same kind.
	Activate(ctx context.Context, id string) (*models.PromptLayer, error)

	// Active returns the active layer per kind for the project. Kinds with
	// no active layer are absent from the map.
	Active(ctx context.Context, projectID string) (map[models.LayerKind]*models.PromptLayer, error)

	// List returns the project's layers, optionally filtered by kind,
	// newest version first.
	List(ctx context.Context, projectID string, kind models.LayerKind) ([]*models.PromptLayer, error)

	// NextVersion returns the next version number for (project, kind).
	NextVersion(ctx context.Context, projectID string, kind models.LayerKind) (int, error)
}

// NewLayer builds an unsaved layer with a fresh ID.
func NewLayer(projectID string, kind models.LayerKind, version int, content string) *models.PromptLayer {
	return &models.PromptLayer{
		ID:        "layer_" + uuid.NewString(),
		ProjectID: projectID,
		Kind:      kind,
		Version:   version,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// MemoryLayerStore is an in-memory LayerStore for tests and dev mode.
type MemoryLayerStore struct {
	mu     sync.RWMutex
	layers map[string]*models.PromptLayer
}

// NewMemoryLayerStore creates an empty in-memory layer store.
func NewMemoryLayerStore() *MemoryLayerStore {
	return &MemoryLayerStore{layers: make(map[string]*models.PromptLayer)}
}

func (s *MemoryLayerStore) Create(ctx context.Context, layer *models.PromptLayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *layer
	s.layers[layer.ID] = &clone
	return nil
}

func (s *MemoryLayerStore) Get(ctx context.Context, id string) (*models.PromptLayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.layers[id]
	if !ok {
		return nil, nil
	}
	clone := *l
	return &clone, nil
}

func (s *MemoryLayerStore) Activate(ctx context.Context, id string) (*models.PromptLayer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.layers[id]
	if !ok {
		return nil, fault.New(fault.CodeValidation, "prompt layer %q not found", id)
	}
	for _, l := range s.layers {
		if l.ProjectID == target.ProjectID && l.Kind == target.Kind {
			l.Active = false
		}
	}
	target.Active = true
	clone := *target
	return &clone, nil
}

func (s *MemoryLayerStore) Active(ctx context.Context, projectID string) (map[models.LayerKind]*models.PromptLayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.LayerKind]*models.PromptLayer)
	for _, l := range s.layers {
		if l.ProjectID == projectID && l.Active {
			clone := *l
			out[l.Kind] = &clone
		}
	}
	return out, nil
}

func (s *MemoryLayerStore) List(ctx context.Context, projectID string, kind models.LayerKind) ([]*models.PromptLayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.PromptLayer
	for _, l := range s.layers {
		if l.ProjectID != projectID {
			continue
		}
		if kind != "" && l.Kind != kind {
			continue
		}
		clone := *l
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Version > out[j].Version
	})
	return out, nil
}

func (s *MemoryLayerStore) NextVersion(ctx context.Context, projectID string, kind models.LayerKind) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for _, l := range s.layers {
		if l.ProjectID == projectID && l.Kind == kind && l.Version > max {
			max = l.Version
		}
	}
	return max + 1, nil
}
