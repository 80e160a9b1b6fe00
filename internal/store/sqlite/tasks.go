package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

// TaskStore implements scheduler.TaskStore.
type TaskStore struct {
	db *sql.DB
}

func (s *TaskStore) Create(ctx context.Context, t *models.ScheduledTask) error {
	body, err := encode(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_tasks (id, project_id, status, next_run_at, created_at, data)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, string(t.Status), nullableMillis(t.NextRunAt), millis(t.CreatedAt), body)
	if isUniqueViolation(err) {
		return fault.New(fault.CodeValidation, "task %q already exists", t.ID)
	}
	return err
}

func (s *TaskStore) Get(ctx context.Context, id string) (*models.ScheduledTask, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM scheduled_tasks WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode[models.ScheduledTask](body)
}

func (s *TaskStore) Update(ctx context.Context, t *models.ScheduledTask) error {
	t.UpdatedAt = time.Now()
	body, err := encode(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_tasks SET status = ?, next_run_at = ?, data = ? WHERE id = ?`,
		string(t.Status), nullableMillis(t.NextRunAt), body, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.CodeTaskNotFound, "task %q not found", t.ID)
	}
	return nil
}

func (s *TaskStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.CodeTaskNotFound, "task %q not found", id)
	}
	return nil
}

func (s *TaskStore) ListByProject(ctx context.Context, projectID string) ([]*models.ScheduledTask, error) {
	return s.list(ctx,
		`SELECT data FROM scheduled_tasks WHERE project_id = ? ORDER BY created_at DESC`, projectID)
}

func (s *TaskStore) Due(ctx context.Context, now time.Time) ([]*models.ScheduledTask, error) {
	return s.list(ctx,
		`SELECT data FROM scheduled_tasks
		 WHERE status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		 ORDER BY next_run_at`,
		string(models.TaskActive), millis(now))
}

func (s *TaskStore) list(ctx context.Context, query string, args ...any) ([]*models.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ScheduledTask
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		t, err := decode[models.ScheduledTask](body)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RunStore implements scheduler.RunStore.
type RunStore struct {
	db *sql.DB
}

func (s *RunStore) Create(ctx context.Context, r *models.ScheduledTaskRun) error {
	body, err := encode(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_task_runs (id, task_id, started_at, data) VALUES (?, ?, ?, ?)`,
		r.ID, r.TaskID, nullableMillis(r.StartedAt), body)
	if isUniqueViolation(err) {
		return fault.New(fault.CodeValidation, "run %q already exists", r.ID)
	}
	return err
}

func (s *RunStore) Get(ctx context.Context, id string) (*models.ScheduledTaskRun, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM scheduled_task_runs WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode[models.ScheduledTaskRun](body)
}

func (s *RunStore) Update(ctx context.Context, r *models.ScheduledTaskRun) error {
	body, err := encode(r)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_task_runs SET started_at = ?, data = ? WHERE id = ?`,
		nullableMillis(r.StartedAt), body, r.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.CodeValidation, "run %q not found", r.ID)
	}
	return nil
}

func (s *RunStore) ListByTask(ctx context.Context, taskID string) ([]*models.ScheduledTaskRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM scheduled_task_runs WHERE task_id = ?
		 ORDER BY started_at DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ScheduledTaskRun
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		r, err := decode[models.ScheduledTaskRun](body)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
