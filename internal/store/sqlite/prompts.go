package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

// LayerStore implements prompt.LayerStore.
type LayerStore struct {
	db *sql.DB
}

func (s *LayerStore) Create(ctx context.Context, layer *models.PromptLayer) error {
	body, err := encode(layer)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO prompt_layers (id, project_id, kind, version, active, created_at, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		layer.ID, layer.ProjectID, string(layer.Kind), layer.Version,
		boolInt(layer.Active), millis(layer.CreatedAt), body)
	if isUniqueViolation(err) {
		return fault.New(fault.CodeValidation, "prompt layer %q already exists", layer.ID)
	}
	return err
}

func (s *LayerStore) Get(ctx context.Context, id string) (*models.PromptLayer, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM prompt_layers WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode[models.PromptLayer](body)
}

func (s *LayerStore) Activate(ctx context.Context, id string) (*models.PromptLayer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var body string
	err = tx.QueryRowContext(ctx, `SELECT data FROM prompt_layers WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.CodeValidation, "prompt layer %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	target, err := decode[models.PromptLayer](body)
	if err != nil {
		return nil, err
	}

	// Deactivate siblings of the same kind, then activate the target. The
	// JSON document carries the flag too, so rewrite both.
	rows, err := tx.QueryContext(ctx,
		`SELECT id, data FROM prompt_layers WHERE project_id = ? AND kind = ?`,
		target.ProjectID, string(target.Kind))
	if err != nil {
		return nil, err
	}
	type pending struct {
		id   string
		body string
	}
	var updates []pending
	for rows.Next() {
		var rowID, rowBody string
		if err := rows.Scan(&rowID, &rowBody); err != nil {
			rows.Close()
			return nil, err
		}
		layer, err := decode[models.PromptLayer](rowBody)
		if err != nil {
			rows.Close()
			return nil, err
		}
		layer.Active = layer.ID == id
		updated, err := encode(layer)
		if err != nil {
			rows.Close()
			return nil, err
		}
		updates = append(updates, pending{id: rowID, body: updated})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx,
			`UPDATE prompt_layers SET active = ?, data = ? WHERE id = ?`,
			boolInt(u.id == id), u.body, u.id); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	target.Active = true
	return target, nil
}

func (s *LayerStore) Active(ctx context.Context, projectID string) (map[models.LayerKind]*models.PromptLayer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM prompt_layers WHERE project_id = ? AND active = 1`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[models.LayerKind]*models.PromptLayer)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		layer, err := decode[models.PromptLayer](body)
		if err != nil {
			return nil, err
		}
		out[layer.Kind] = layer
	}
	return out, rows.Err()
}

func (s *LayerStore) List(ctx context.Context, projectID string, kind models.LayerKind) ([]*models.PromptLayer, error) {
	query := `SELECT data FROM prompt_layers WHERE project_id = ?`
	args := []any{projectID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY version DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.PromptLayer
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		layer, err := decode[models.PromptLayer](body)
		if err != nil {
			return nil, err
		}
		out = append(out, layer)
	}
	return out, rows.Err()
}

func (s *LayerStore) NextVersion(ctx context.Context, projectID string, kind models.LayerKind) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM prompt_layers WHERE project_id = ? AND kind = ?`,
		projectID, string(kind)).Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64) + 1, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
