package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

// TraceStore implements trace.Store. Events live as a JSON array inside the
// trace document.
type TraceStore struct {
	db *sql.DB
}

func (s *TraceStore) Create(ctx context.Context, t *models.ExecutionTrace) error {
	body, err := encode(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO execution_traces (id, project_id, session_id, created_at, data)
		 VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.SessionID, millis(t.CreatedAt), body)
	if isUniqueViolation(err) {
		return fault.New(fault.CodeValidation, "trace %q already exists", t.ID)
	}
	return err
}

func (s *TraceStore) FindByID(ctx context.Context, id string) (*models.ExecutionTrace, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM execution_traces WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode[models.ExecutionTrace](body)
}

func (s *TraceStore) Update(ctx context.Context, t *models.ExecutionTrace) error {
	body, err := encode(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE execution_traces SET session_id = ?, data = ? WHERE id = ?`,
		t.SessionID, body, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.CodeValidation, "trace %q not found", t.ID)
	}
	return nil
}

func (s *TraceStore) AddEvents(ctx context.Context, id string, events []models.TraceEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var body string
	err = tx.QueryRowContext(ctx, `SELECT data FROM execution_traces WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return fault.New(fault.CodeValidation, "trace %q not found", id)
	}
	if err != nil {
		return err
	}
	t, err := decode[models.ExecutionTrace](body)
	if err != nil {
		return err
	}
	t.Events = append(t.Events, events...)

	updated, err := encode(t)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE execution_traces SET data = ? WHERE id = ?`, updated, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *TraceStore) ListBySession(ctx context.Context, sessionID string) ([]*models.ExecutionTrace, error) {
	return s.list(ctx,
		`SELECT data FROM execution_traces WHERE session_id = ? ORDER BY created_at`, sessionID)
}

func (s *TraceStore) ListByProject(ctx context.Context, projectID string, limit int) ([]*models.ExecutionTrace, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.list(ctx,
		`SELECT data FROM execution_traces WHERE project_id = ? ORDER BY created_at DESC LIMIT ?`,
		projectID, limit)
}

func (s *TraceStore) Save(ctx context.Context, t *models.ExecutionTrace) error {
	body, err := encode(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO execution_traces (id, project_id, session_id, created_at, data)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET session_id = excluded.session_id, data = excluded.data`,
		t.ID, t.ProjectID, t.SessionID, millis(t.CreatedAt), body)
	return err
}

func (s *TraceStore) list(ctx context.Context, query string, args ...any) ([]*models.ExecutionTrace, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ExecutionTrace
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		t, err := decode[models.ExecutionTrace](body)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
