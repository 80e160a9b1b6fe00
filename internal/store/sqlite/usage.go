package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/loomhq/loom/pkg/models"
)

// UsageStore implements costguard.Store. The unique (project_id, turn_key)
// index makes TurnKey appends idempotent.
type UsageStore struct {
	db *sql.DB
}

func (s *UsageStore) Append(ctx context.Context, rec *models.UsageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO usage_records
		 (project_id, ts, provider, model, input_tokens, output_tokens, cost_usd, turn_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ProjectID, millis(rec.Timestamp), rec.Provider, rec.Model,
		rec.InputTokens, rec.OutputTokens, rec.CostUSD, rec.TurnKey)
	return err
}

func (s *UsageStore) SumCostSince(ctx context.Context, projectID string, since time.Time) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM usage_records WHERE project_id = ? AND ts >= ?`,
		projectID, millis(since)).Scan(&total)
	return total, err
}

func (s *UsageStore) CountSince(ctx context.Context, projectID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_records WHERE project_id = ? AND ts >= ?`,
		projectID, millis(since)).Scan(&n)
	return n, err
}

func (s *UsageStore) ListSince(ctx context.Context, projectID string, since time.Time) ([]*models.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, ts, provider, model, input_tokens, output_tokens, cost_usd, turn_key
		 FROM usage_records WHERE project_id = ? AND ts >= ? ORDER BY ts`,
		projectID, millis(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.UsageRecord
	for rows.Next() {
		var rec models.UsageRecord
		var ts int64
		if err := rows.Scan(&rec.ProjectID, &ts, &rec.Provider, &rec.Model,
			&rec.InputTokens, &rec.OutputTokens, &rec.CostUSD, &rec.TurnKey); err != nil {
			return nil, err
		}
		rec.Timestamp = fromMillis(ts)
		out = append(out, &rec)
	}
	return out, rows.Err()
}
