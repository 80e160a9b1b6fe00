package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/loomhq/loom/pkg/models"
)

// SecretStore implements secrets.Store with explicit cipher columns;
// Secret's cipher fields are excluded from JSON on purpose.
type SecretStore struct {
	db *sql.DB
}

func (s *SecretStore) Put(ctx context.Context, secret *models.Secret) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (project_id, key, ciphertext, iv, auth_tag, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, key) DO UPDATE SET
			ciphertext = excluded.ciphertext,
			iv = excluded.iv,
			auth_tag = excluded.auth_tag,
			description = excluded.description,
			updated_at = excluded.updated_at`,
		secret.ProjectID, secret.Key, secret.Ciphertext, secret.IV, secret.AuthTag,
		secret.Description, millis(secret.CreatedAt), millis(secret.UpdatedAt))
	return err
}

func (s *SecretStore) Get(ctx context.Context, projectID, key string) (*models.Secret, error) {
	var secret models.Secret
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT project_id, key, ciphertext, iv, auth_tag, description, created_at, updated_at
		 FROM secrets WHERE project_id = ? AND key = ?`,
		projectID, key).Scan(&secret.ProjectID, &secret.Key, &secret.Ciphertext,
		&secret.IV, &secret.AuthTag, &secret.Description, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	secret.CreatedAt = fromMillis(createdAt)
	secret.UpdatedAt = fromMillis(updatedAt)
	return &secret, nil
}

func (s *SecretStore) List(ctx context.Context, projectID string) ([]models.SecretMetadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, key, description, created_at, updated_at
		 FROM secrets WHERE project_id = ? ORDER BY key`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.SecretMetadata
	for rows.Next() {
		var meta models.SecretMetadata
		var createdAt, updatedAt int64
		if err := rows.Scan(&meta.ProjectID, &meta.Key, &meta.Description, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		meta.CreatedAt = fromMillis(createdAt)
		meta.UpdatedAt = fromMillis(updatedAt)
		out = append(out, meta)
	}
	return out, rows.Err()
}

func (s *SecretStore) Delete(ctx context.Context, projectID, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM secrets WHERE project_id = ? AND key = ?`, projectID, key)
	return err
}
