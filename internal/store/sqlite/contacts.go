package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

// ContactStore implements contacts.Store. Partial unique indexes enforce
// per-project channel-identifier uniqueness.
type ContactStore struct {
	db *sql.DB
}

func (s *ContactStore) Create(ctx context.Context, c *models.Contact) error {
	body, err := encode(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, project_id, telegram_id, slack_id, phone, email, created_at, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.TelegramID, c.SlackID, c.Phone, c.Email, millis(c.CreatedAt), body)
	if isUniqueViolation(err) {
		return fault.New(fault.CodeValidation, "channel identifier already in use for project %q", c.ProjectID)
	}
	return err
}

func (s *ContactStore) Get(ctx context.Context, id string) (*models.Contact, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM contacts WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode[models.Contact](body)
}

func (s *ContactStore) Update(ctx context.Context, c *models.Contact) error {
	clone := *c
	clone.UpdatedAt = time.Now()
	body, err := encode(&clone)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET telegram_id = ?, slack_id = ?, phone = ?, email = ?, data = ?
		 WHERE id = ?`,
		c.TelegramID, c.SlackID, c.Phone, c.Email, body, c.ID)
	if isUniqueViolation(err) {
		return fault.New(fault.CodeValidation, "channel identifier already in use for project %q", c.ProjectID)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.CodeValidation, "contact %q not found", c.ID)
	}
	return nil
}

func (s *ContactStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, id)
	return err
}

func (s *ContactStore) List(ctx context.Context, projectID string) ([]*models.Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM contacts WHERE project_id = ? ORDER BY created_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Contact
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		c, err := decode[models.Contact](body)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *ContactStore) FindByChannel(ctx context.Context, projectID, provider, identifier string) (*models.Contact, error) {
	if identifier == "" {
		return nil, nil
	}
	var column string
	switch provider {
	case "telegram":
		column = "telegram_id"
	case "slack":
		column = "slack_id"
	case "phone":
		column = "phone"
	case "email":
		column = "email"
	default:
		return nil, nil
	}
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM contacts WHERE project_id = ? AND `+column+` = ?`,
		projectID, identifier).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode[models.Contact](body)
}

// IntegrationStore implements channels.IntegrationStore.
type IntegrationStore struct {
	db *sql.DB
}

func (s *IntegrationStore) Put(ctx context.Context, ci *models.ChannelIntegration) error {
	if ci.ProjectID == "" || ci.Provider == "" {
		return fault.New(fault.CodeValidation, "integration project_id and provider are required")
	}
	clone := *ci
	clone.UpdatedAt = time.Now()
	body, err := encode(&clone)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO channel_integrations (project_id, provider, updated_at, data)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(project_id, provider) DO UPDATE SET
			updated_at = excluded.updated_at, data = excluded.data`,
		clone.ProjectID, clone.Provider, millis(clone.UpdatedAt), body)
	return err
}

func (s *IntegrationStore) Get(ctx context.Context, projectID, provider string) (*models.ChannelIntegration, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM channel_integrations WHERE project_id = ? AND provider = ?`,
		projectID, provider).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode[models.ChannelIntegration](body)
}

func (s *IntegrationStore) Delete(ctx context.Context, projectID, provider string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM channel_integrations WHERE project_id = ? AND provider = ?`,
		projectID, provider)
	return err
}

func (s *IntegrationStore) List(ctx context.Context, projectID string) ([]*models.ChannelIntegration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM channel_integrations WHERE project_id = ? ORDER BY provider`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ChannelIntegration
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		ci, err := decode[models.ChannelIntegration](body)
		if err != nil {
			return nil, err
		}
		out = append(out, ci)
	}
	return out, rows.Err()
}
