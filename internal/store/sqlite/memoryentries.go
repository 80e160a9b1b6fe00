package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/loomhq/loom/internal/memory"
	"github.com/loomhq/loom/pkg/models"
)

// MemoryEntryStore implements memory.Store. Embeddings are stored as JSON
// float arrays and scored brute-force in Go; at the entry counts the pruning
// policy allows, a vector index would be overkill.
type MemoryEntryStore struct {
	db *sql.DB
}

func (s *MemoryEntryStore) Insert(ctx context.Context, entry *models.MemoryEntry) error {
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}
	if entry.Metadata == nil {
		meta = []byte("{}")
	}
	var embedding any
	if len(entry.Embedding) > 0 {
		raw, err := json.Marshal(entry.Embedding)
		if err != nil {
			return err
		}
		embedding = string(raw)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory_entries
		 (id, project_id, session_id, category, content, importance, access_count,
		  last_accessed_at, created_at, expires_at, metadata, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ProjectID, entry.SessionID, entry.Category, entry.Content,
		entry.Importance, entry.AccessCount, millis(entry.LastAccessedAt),
		millis(entry.CreatedAt), nullableMillis(entry.ExpiresAt), string(meta), embedding)
	return err
}

func (s *MemoryEntryStore) Search(ctx context.Context, projectID, sessionID string, vector []float32, limit int) ([]*memory.ScoredEntry, error) {
	query := `SELECT id, project_id, session_id, category, content, importance, access_count,
		last_accessed_at, created_at, expires_at, metadata, embedding
		FROM memory_entries WHERE project_id = ?`
	args := []any{projectID}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	query += ` AND (expires_at IS NULL OR expires_at >= ?)`
	args = append(args, millis(time.Now()))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*memory.ScoredEntry
	for rows.Next() {
		entry, err := scanMemoryEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, &memory.ScoredEntry{
			Entry:      entry,
			Similarity: memory.CosineSimilarity(vector, entry.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryEntryStore) Touch(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := []any{millis(at)}
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE memory_entries SET access_count = access_count + 1, last_accessed_at = ?
		 WHERE id IN (`+placeholders+`)`, args...)
	return err
}

func (s *MemoryEntryStore) Count(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_entries WHERE project_id = ?`, projectID).Scan(&n)
	return n, err
}

func (s *MemoryEntryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_entries WHERE expires_at IS NOT NULL AND expires_at < ?`,
		millis(now))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanMemoryEntry(rows *sql.Rows) (*models.MemoryEntry, error) {
	var entry models.MemoryEntry
	var lastAccessed, createdAt int64
	var expiresAt sql.NullInt64
	var meta string
	var embedding sql.NullString
	if err := rows.Scan(&entry.ID, &entry.ProjectID, &entry.SessionID, &entry.Category,
		&entry.Content, &entry.Importance, &entry.AccessCount, &lastAccessed,
		&createdAt, &expiresAt, &meta, &embedding); err != nil {
		return nil, err
	}
	entry.LastAccessedAt = fromMillis(lastAccessed)
	entry.CreatedAt = fromMillis(createdAt)
	if expiresAt.Valid {
		t := fromMillis(expiresAt.Int64)
		entry.ExpiresAt = &t
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &entry.Metadata); err != nil {
			return nil, err
		}
	}
	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &entry.Embedding); err != nil {
			return nil, err
		}
	}
	return &entry, nil
}
