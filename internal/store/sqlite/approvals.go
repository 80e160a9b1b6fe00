package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/loomhq/loom/pkg/models"
)

// ApprovalStore implements approval.Store.
type ApprovalStore struct {
	db *sql.DB
}

func (s *ApprovalStore) Create(ctx context.Context, a *models.Approval) error {
	body, err := encode(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO approval_requests (id, project_id, status, requested_at, data)
		 VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.ProjectID, string(a.Status), millis(a.RequestedAt), body)
	return err
}

func (s *ApprovalStore) Get(ctx context.Context, id string) (*models.Approval, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM approval_requests WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode[models.Approval](body)
}

func (s *ApprovalStore) Update(ctx context.Context, a *models.Approval) error {
	body, err := encode(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE approval_requests SET status = ?, data = ? WHERE id = ?`,
		string(a.Status), body, a.ID)
	return err
}

func (s *ApprovalStore) List(ctx context.Context, projectID string, status models.ApprovalStatus) ([]*models.Approval, error) {
	query := `SELECT data FROM approval_requests WHERE 1=1`
	var args []any
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY requested_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Approval
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		a, err := decode[models.Approval](body)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *ApprovalStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM approval_requests WHERE requested_at < ?`, millis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
