package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/internal/projects"
	"github.com/loomhq/loom/pkg/models"
)

// ProjectStore implements projects.Store.
type ProjectStore struct {
	db *sql.DB
}

func (s *ProjectStore) Create(ctx context.Context, p *models.Project) error {
	if err := projects.Validate(p); err != nil {
		return err
	}
	body, err := encode(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (id, created_at, data) VALUES (?, ?, ?)`,
		p.ID, millis(p.CreatedAt), body)
	if isUniqueViolation(err) {
		return fault.New(fault.CodeValidation, "project %q already exists", p.ID)
	}
	return err
}

func (s *ProjectStore) Get(ctx context.Context, id string) (*models.Project, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM projects WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode[models.Project](body)
}

func (s *ProjectStore) Update(ctx context.Context, p *models.Project) error {
	if err := projects.Validate(p); err != nil {
		return err
	}
	body, err := encode(p)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE projects SET data = ? WHERE id = ?`, body, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.CodeValidation, "project %q not found", p.ID)
	}
	return nil
}

func (s *ProjectStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.CodeValidation, "project %q not found", id)
	}
	return nil
}

func (s *ProjectStore) List(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Project
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		p, err := decode[models.Project](body)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
