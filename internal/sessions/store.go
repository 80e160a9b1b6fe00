// Package sessions persists conversations and their ordered transcripts.
package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

// Store persists sessions and messages. Message appends within a session
// are serialized by the caller (the runner host holds a per-session lock);
// the store guarantees they read back in append order.
type Store interface {
	// Create persists a new session.
	Create(ctx context.Context, s *models.Session) error

	// Get returns a session by ID, or nil when absent.
	Get(ctx context.Context, id string) (*models.Session, error)

	// Update overwrites a session.
	Update(ctx context.Context, s *models.Session) error

	// FindActive returns the active session for (project, contact), or nil.
	FindActive(ctx context.Context, projectID, contactID string) (*models.Session, error)

	// ListByProject returns the project's sessions, optionally filtered by
	// status, newest first.
	ListByProject(ctx context.Context, projectID string, status models.SessionStatus) ([]*models.Session, error)

	// AppendMessage appends a message to a session's transcript.
	AppendMessage(ctx context.Context, msg *models.Message) error

	// Messages returns a session's transcript in append order.
	Messages(ctx context.Context, sessionID string) ([]*models.Message, error)
}

// NewSession builds an unsaved active session.
func NewSession(projectID, contactID, channel string) *models.Session {
	now := time.Now()
	return &models.Session{
		ID:        "sess_" + uuid.NewString(),
		ProjectID: projectID,
		ContactID: contactID,
		Channel:   channel,
		Status:    models.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Resolve returns the active session for (project, contact), creating one
// when none exists.
func Resolve(ctx context.Context, store Store, projectID, contactID, channel string) (*models.Session, error) {
	s, err := store.FindActive(ctx, projectID, contactID)
	if err != nil {
		return nil, err
	}
	if s != nil {
		return s, nil
	}
	s = NewSession(projectID, contactID, channel)
	if err := store.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// MemoryStore is an in-memory Store for tests and dev mode.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	messages map[string][]*models.Message
	lastAt   map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]*models.Message),
		lastAt:   make(map[string]time.Time),
	}
}

func (s *MemoryStore) Create(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return fault.New(fault.CodeSession, "session %q already exists", sess.ID)
	}
	clone := *sess
	s.sessions[sess.ID] = &clone
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	clone := *sess
	return &clone, nil
}

func (s *MemoryStore) Update(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return fault.New(fault.CodeSession, "session %q not found", sess.ID)
	}
	clone := *sess
	clone.UpdatedAt = time.Now()
	s.sessions[sess.ID] = &clone
	return nil
}

func (s *MemoryStore) FindActive(ctx context.Context, projectID, contactID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.ProjectID == projectID && sess.ContactID == contactID && sess.Status == models.SessionActive {
			clone := *sess
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListByProject(ctx context.Context, projectID string, status models.SessionStatus) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Session
	for _, sess := range s.sessions {
		if sess.ProjectID != projectID {
			continue
		}
		if status != "" && sess.Status != status {
			continue
		}
		clone := *sess
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// AppendMessage stores the message, bumping CreatedAt forward if needed so
// per-session timestamps stay monotonic.
func (s *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[msg.SessionID]; !ok {
		return fault.New(fault.CodeSession, "session %q not found", msg.SessionID)
	}
	clone := *msg
	if clone.ID == "" {
		clone.ID = "msg_" + uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	if last, ok := s.lastAt[msg.SessionID]; ok && !clone.CreatedAt.After(last) {
		clone.CreatedAt = last.Add(time.Microsecond)
	}
	s.lastAt[msg.SessionID] = clone.CreatedAt
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], &clone)
	return nil
}

func (s *MemoryStore) Messages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	out := make([]*models.Message, len(msgs))
	for i, m := range msgs {
		clone := *m
		out[i] = &clone
	}
	return out, nil
}
