// Package contacts tracks the people a project talks to across channels.
package contacts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

// Store persists contacts. Channel identifiers are unique per project per
// channel.
type Store interface {
	Create(ctx context.Context, c *models.Contact) error
	Get(ctx context.Context, id string) (*models.Contact, error)
	Update(ctx context.Context, c *models.Contact) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, projectID string) ([]*models.Contact, error)

	// FindByChannel looks a contact up by a channel identifier. provider is
	// "telegram", "slack", "phone", or "email". Returns nil when absent.
	FindByChannel(ctx context.Context, projectID, provider, identifier string) (*models.Contact, error)
}

// channelIdentifier extracts the identifier a provider keys contacts by.
func channelIdentifier(c *models.Contact, provider string) string {
	switch provider {
	case "telegram":
		return c.TelegramID
	case "slack":
		return c.SlackID
	case "phone":
		return c.Phone
	case "email":
		return c.Email
	}
	return ""
}

// setChannelIdentifier writes the identifier field for a provider.
func setChannelIdentifier(c *models.Contact, provider, identifier string) {
	switch provider {
	case "telegram":
		c.TelegramID = identifier
	case "slack":
		c.SlackID = identifier
	case "phone":
		c.Phone = identifier
	case "email":
		c.Email = identifier
	}
}

// Resolve finds the contact for a channel identity, creating one when it is
// the first message from that identity.
func Resolve(ctx context.Context, store Store, projectID, provider, identifier, name string) (*models.Contact, error) {
	if identifier == "" {
		return nil, fault.New(fault.CodeValidation, "channel identifier is required")
	}
	existing, err := store.FindByChannel(ctx, projectID, provider, identifier)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()
	contact := &models.Contact{
		ID:        "contact_" + uuid.NewString(),
		ProjectID: projectID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if contact.Name == "" {
		contact.Name = identifier
	}
	setChannelIdentifier(contact, provider, identifier)
	if err := store.Create(ctx, contact); err != nil {
		return nil, err
	}
	return contact, nil
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	contacts map[string]*models.Contact
}

// NewMemoryStore creates an empty in-memory contact store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contacts: make(map[string]*models.Contact)}
}

func cloneContact(c *models.Contact) *models.Contact {
	clone := *c
	if c.Metadata != nil {
		clone.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// conflicts reports whether candidate shares a channel identifier with
// another contact of the same project. Lock held.
func (s *MemoryStore) conflicts(candidate *models.Contact) bool {
	for _, other := range s.contacts {
		if other.ID == candidate.ID || other.ProjectID != candidate.ProjectID {
			continue
		}
		for _, provider := range []string{"telegram", "slack", "phone", "email"} {
			id := channelIdentifier(candidate, provider)
			if id != "" && id == channelIdentifier(other, provider) {
				return true
			}
		}
	}
	return false
}

func (s *MemoryStore) Create(ctx context.Context, c *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.contacts[c.ID]; exists {
		return fault.New(fault.CodeValidation, "contact %q already exists", c.ID)
	}
	if s.conflicts(c) {
		return fault.New(fault.CodeValidation, "channel identifier already in use for project %q", c.ProjectID)
	}
	s.contacts[c.ID] = cloneContact(c)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, nil
	}
	return cloneContact(c), nil
}

func (s *MemoryStore) Update(ctx context.Context, c *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[c.ID]; !ok {
		return fault.New(fault.CodeValidation, "contact %q not found", c.ID)
	}
	if s.conflicts(c) {
		return fault.New(fault.CodeValidation, "channel identifier already in use for project %q", c.ProjectID)
	}
	clone := cloneContact(c)
	clone.UpdatedAt = time.Now()
	s.contacts[c.ID] = clone
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contacts, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, projectID string) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Contact
	for _, c := range s.contacts {
		if c.ProjectID == projectID {
			out = append(out, cloneContact(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) FindByChannel(ctx context.Context, projectID, provider, identifier string) (*models.Contact, error) {
	if identifier == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.contacts {
		if c.ProjectID == projectID && channelIdentifier(c, provider) == identifier {
			return cloneContact(c), nil
		}
	}
	return nil, nil
}
