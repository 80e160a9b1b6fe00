package channels

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

// SecretGetter fetches project-scoped secret plaintext. The secret service
// implements it.
type SecretGetter interface {
	Get(ctx context.Context, projectID, key string) (string, error)
}

// Builder constructs an adapter from an integration's config, pulling any
// referenced secrets through the getter.
type Builder func(ctx context.Context, ci *models.ChannelIntegration, secrets SecretGetter) (Adapter, error)

type cacheEntry struct {
	adapter   Adapter
	updatedAt time.Time
}

// Resolver builds and caches per-project adapters. The cache keys on the
// integration's UpdatedAt so config changes produce a fresh adapter.
type Resolver struct {
	store    IntegrationStore
	secrets  SecretGetter
	builders map[string]Builder
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewResolver creates a resolver with no registered providers.
func NewResolver(store IntegrationStore, secrets SecretGetter, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:    store,
		secrets:  secrets,
		builders: make(map[string]Builder),
		logger:   logger,
		cache:    make(map[string]cacheEntry),
	}
}

// Register wires a builder for a provider name.
func (r *Resolver) Register(provider string, b Builder) {
	r.builders[provider] = b
}

// Resolve returns the adapter for (projectID, provider), or (nil, nil) when
// the project has no active integration for that provider.
func (r *Resolver) Resolve(ctx context.Context, projectID, provider string) (Adapter, error) {
	ci, err := r.store.Get(ctx, projectID, provider)
	if err != nil {
		return nil, err
	}
	if ci == nil || ci.Status != models.IntegrationActive {
		return nil, nil
	}

	key := integrationKey(projectID, provider)
	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && entry.updatedAt.Equal(ci.UpdatedAt) {
		r.mu.Unlock()
		return entry.adapter, nil
	}
	r.mu.Unlock()

	builder, ok := r.builders[provider]
	if !ok {
		return nil, fault.New(fault.CodeConfig, "no adapter registered for provider %q", provider)
	}
	adapter, err := builder(ctx, ci, r.secrets)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{adapter: adapter, updatedAt: ci.UpdatedAt}
	r.mu.Unlock()
	r.logger.Debug("adapter built", "project_id", projectID, "provider", provider)
	return adapter, nil
}

// Invalidate drops the cached adapter for (projectID, provider). Call it
// when integration config or secrets change.
func (r *Resolver) Invalidate(projectID, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, integrationKey(projectID, provider))
}
