// Package approval implements the human confirmation gate for high-risk
// tool calls. Requests are persisted as pending and resolved out of band.
package approval

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/internal/tools"
	"github.com/loomhq/loom/pkg/models"
)

// Store persists approval requests.
type Store interface {
	Create(ctx context.Context, a *models.Approval) error
	Get(ctx context.Context, id string) (*models.Approval, error)
	Update(ctx context.Context, a *models.Approval) error
	List(ctx context.Context, projectID string, status models.ApprovalStatus) ([]*models.Approval, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Notifier is told about newly created approval requests so operators can
// be paged. Nil notifiers are allowed.
type Notifier interface {
	ApprovalRequested(ctx context.Context, a *models.Approval)
}

// Gate creates and resolves approval requests. It implements
// tools.ApprovalGate: Request never blocks waiting for a human.
type Gate struct {
	store    Store
	notifier Notifier
	ttl      time.Duration
	logger   *slog.Logger
}

// Config configures the gate.
type Config struct {
	// RequestTTL is how long requests stay resolvable before pruning.
	// Defaults to 24h.
	RequestTTL time.Duration

	// Notifier, when set, is called for each new request.
	Notifier Notifier

	// Logger for gate events.
	Logger *slog.Logger
}

// NewGate creates a gate backed by the given store.
func NewGate(store Store, cfg Config) *Gate {
	if cfg.RequestTTL <= 0 {
		cfg.RequestTTL = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gate{
		store:    store,
		notifier: cfg.Notifier,
		ttl:      cfg.RequestTTL,
		logger:   cfg.Logger,
	}
}

// Request implements tools.ApprovalGate. It records a pending approval and
// returns approved=false with its ID; the runner surfaces APPROVAL_REQUIRED
// and the run parks until the request is resolved and the turn retried.
func (g *Gate) Request(ctx context.Context, toolID string, input json.RawMessage, ec *tools.ExecContext) (bool, string, error) {
	now := time.Now()
	a := &models.Approval{
		ID:          "approval_" + uuid.NewString(),
		ProjectID:   ec.ProjectID,
		ToolID:      toolID,
		Input:       input,
		SessionID:   ec.SessionID,
		Status:      models.ApprovalPending,
		RequestedAt: now,
		ExpiresAt:   now.Add(g.ttl),
	}
	if err := g.store.Create(ctx, a); err != nil {
		return false, "", err
	}

	if g.notifier != nil {
		g.notifier.ApprovalRequested(ctx, a)
	}
	g.logger.Info("approval requested", "approval_id", a.ID, "tool", toolID, "project_id", ec.ProjectID)

	return false, a.ID, nil
}

// Approve resolves a pending request as approved.
func (g *Gate) Approve(ctx context.Context, id, by, note string) (*models.Approval, error) {
	return g.resolve(ctx, id, models.ApprovalApproved, by, note)
}

// Reject resolves a pending request as rejected.
func (g *Gate) Reject(ctx context.Context, id, by, note string) (*models.Approval, error) {
	return g.resolve(ctx, id, models.ApprovalRejected, by, note)
}

func (g *Gate) resolve(ctx context.Context, id string, status models.ApprovalStatus, by, note string) (*models.Approval, error) {
	a, err := g.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fault.New(fault.CodeValidation, "approval %q not found", id)
	}
	if a.Status != models.ApprovalPending {
		return nil, fault.New(fault.CodeValidation, "approval %q already %s", id, a.Status)
	}

	now := time.Now()
	a.Status = status
	a.ResolvedAt = &now
	a.ResolvedBy = by
	a.Note = note
	if err := g.store.Update(ctx, a); err != nil {
		return nil, err
	}
	g.logger.Info("approval resolved", "approval_id", id, "status", status, "by", by)
	return a, nil
}

// Get returns an approval by ID.
func (g *Gate) Get(ctx context.Context, id string) (*models.Approval, error) {
	return g.store.Get(ctx, id)
}

// List returns approvals for a project, optionally filtered by status.
// An empty status returns all.
func (g *Gate) List(ctx context.Context, projectID string, status models.ApprovalStatus) ([]*models.Approval, error) {
	return g.store.List(ctx, projectID, status)
}

// IsApproved reports whether the request with the given ID is approved.
// Used by the registry retry path after out-of-band resolution.
func (g *Gate) IsApproved(ctx context.Context, id string) (bool, error) {
	a, err := g.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return a != nil && a.Status == models.ApprovalApproved, nil
}

// Prune removes requests older than the given duration.
func (g *Gate) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	return g.store.Prune(ctx, olderThan)
}
