// Package scheduler implements cron-driven agent tasks: the lifecycle
// manager and the queue-backed runner.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

// TaskStore persists scheduled tasks.
type TaskStore interface {
	Create(ctx context.Context, t *models.ScheduledTask) error
	Get(ctx context.Context, id string) (*models.ScheduledTask, error)
	Update(ctx context.Context, t *models.ScheduledTask) error
	Delete(ctx context.Context, id string) error

	// ListByProject returns a project's tasks, newest first.
	ListByProject(ctx context.Context, projectID string) ([]*models.ScheduledTask, error)

	// Due returns active tasks with nextRunAt at or before now.
	Due(ctx context.Context, now time.Time) ([]*models.ScheduledTask, error)
}

// RunStore persists scheduled task runs.
type RunStore interface {
	Create(ctx context.Context, r *models.ScheduledTaskRun) error
	Get(ctx context.Context, id string) (*models.ScheduledTaskRun, error)
	Update(ctx context.Context, r *models.ScheduledTaskRun) error

	// ListByTask returns a task's runs, newest first.
	ListByTask(ctx context.Context, taskID string) ([]*models.ScheduledTaskRun, error)
}

// MemoryTaskStore is an in-memory TaskStore.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*models.ScheduledTask
}

// NewMemoryTaskStore creates an empty in-memory task store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]*models.ScheduledTask)}
}

func cloneTask(t *models.ScheduledTask) *models.ScheduledTask {
	clone := *t
	if t.MaxRuns != nil {
		v := *t.MaxRuns
		clone.MaxRuns = &v
	}
	for _, src := range []struct {
		in  *time.Time
		out **time.Time
	}{
		{t.LastRunAt, &clone.LastRunAt},
		{t.NextRunAt, &clone.NextRunAt},
		{t.ExpiresAt, &clone.ExpiresAt},
	} {
		if src.in != nil {
			v := *src.in
			*src.out = &v
		}
	}
	return &clone
}

func (s *MemoryTaskStore) Create(ctx context.Context, t *models.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return fault.New(fault.CodeValidation, "task %q already exists", t.ID)
	}
	s.tasks[t.ID] = cloneTask(t)
	return nil
}

func (s *MemoryTaskStore) Get(ctx context.Context, id string) (*models.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	return cloneTask(t), nil
}

func (s *MemoryTaskStore) Update(ctx context.Context, t *models.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return fault.New(fault.CodeTaskNotFound, "task %q not found", t.ID)
	}
	clone := cloneTask(t)
	clone.UpdatedAt = time.Now()
	s.tasks[t.ID] = clone
	return nil
}

func (s *MemoryTaskStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return fault.New(fault.CodeTaskNotFound, "task %q not found", id)
	}
	delete(s.tasks, id)
	return nil
}

func (s *MemoryTaskStore) ListByProject(ctx context.Context, projectID string) ([]*models.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ScheduledTask
	for _, t := range s.tasks {
		if t.ProjectID == projectID {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryTaskStore) Due(ctx context.Context, now time.Time) ([]*models.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ScheduledTask
	for _, t := range s.tasks {
		if t.Status == models.TaskActive && t.NextRunAt != nil && !t.NextRunAt.After(now) {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(*out[j].NextRunAt) })
	return out, nil
}

// MemoryRunStore is an in-memory RunStore.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*models.ScheduledTaskRun
}

// NewMemoryRunStore creates an empty in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*models.ScheduledTaskRun)}
}

func cloneRun(r *models.ScheduledTaskRun) *models.ScheduledTaskRun {
	clone := *r
	if r.StartedAt != nil {
		v := *r.StartedAt
		clone.StartedAt = &v
	}
	if r.CompletedAt != nil {
		v := *r.CompletedAt
		clone.CompletedAt = &v
	}
	return &clone
}

func (s *MemoryRunStore) Create(ctx context.Context, r *models.ScheduledTaskRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[r.ID]; exists {
		return fault.New(fault.CodeValidation, "run %q already exists", r.ID)
	}
	s.runs[r.ID] = cloneRun(r)
	return nil
}

func (s *MemoryRunStore) Get(ctx context.Context, id string) (*models.ScheduledTaskRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	return cloneRun(r), nil
}

func (s *MemoryRunStore) Update(ctx context.Context, r *models.ScheduledTaskRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.ID]; !ok {
		return fault.New(fault.CodeValidation, "run %q not found", r.ID)
	}
	s.runs[r.ID] = cloneRun(r)
	return nil
}

func (s *MemoryRunStore) ListByTask(ctx context.Context, taskID string) ([]*models.ScheduledTaskRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ScheduledTaskRun
	for _, r := range s.runs {
		if r.TaskID == taskID {
			out = append(out, cloneRun(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := time.Time{}, time.Time{}
		if out[i].StartedAt != nil {
			ti = *out[i].StartedAt
		}
		if out[j].StartedAt != nil {
			tj = *out[j].StartedAt
		}
		return ti.After(tj)
	})
	return out, nil
}
