package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

// SessionStore implements sessions.Store.
type SessionStore struct {
	db *sql.DB
}

func (s *SessionStore) Create(ctx context.Context, sess *models.Session) error {
	body, err := encode(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project_id, contact_id, status, created_at, data)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ProjectID, sess.ContactID, string(sess.Status), millis(sess.CreatedAt), body)
	if isUniqueViolation(err) {
		return fault.New(fault.CodeSession, "session %q already exists", sess.ID)
	}
	return err
}

func (s *SessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode[models.Session](body)
}

func (s *SessionStore) Update(ctx context.Context, sess *models.Session) error {
	body, err := encode(sess)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET contact_id = ?, status = ?, data = ? WHERE id = ?`,
		sess.ContactID, string(sess.Status), body, sess.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.CodeSession, "session %q not found", sess.ID)
	}
	return nil
}

func (s *SessionStore) FindActive(ctx context.Context, projectID, contactID string) (*models.Session, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM sessions
		 WHERE project_id = ? AND contact_id = ? AND status = ?
		 ORDER BY created_at DESC LIMIT 1`,
		projectID, contactID, string(models.SessionActive)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode[models.Session](body)
}

func (s *SessionStore) ListByProject(ctx context.Context, projectID string, status models.SessionStatus) ([]*models.Session, error) {
	query := `SELECT data FROM sessions WHERE project_id = ?`
	args := []any{projectID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Session
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		sess, err := decode[models.Session](body)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SessionStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE id = ?`, msg.SessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fault.New(fault.CodeSession, "session %q not found", msg.SessionID)
	}
	if err != nil {
		return err
	}

	clone := *msg
	if clone.ID == "" {
		clone.ID = "msg_" + uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}

	// Per-session createdAt is strictly monotonic.
	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM messages WHERE session_id = ?`, msg.SessionID).Scan(&last); err != nil {
		return err
	}
	if last.Valid && millis(clone.CreatedAt) <= last.Int64 {
		clone.CreatedAt = fromMillis(last.Int64 + 1)
	}

	body, err := encode(&clone)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, created_at, data) VALUES (?, ?, ?, ?)`,
		clone.ID, clone.SessionID, millis(clone.CreatedAt), body)
	if err != nil {
		return err
	}
	msg.ID = clone.ID
	msg.CreatedAt = clone.CreatedAt
	return nil
}

func (s *SessionStore) Messages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM messages WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Message
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		msg, err := decode[models.Message](body)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}
