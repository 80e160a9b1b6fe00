// Package costguard meters model usage against per-project budgets and rate
// limits. Every model call passes a pre-check first and records its usage
// after; the guard is the only component that writes usage records.
package costguard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

const (
	defaultAlertPct = 80
	defaultHardPct  = 100
)

// Store persists usage records and answers the aggregate queries the
// pre-check needs.
type Store interface {
	// Append stores a record. Appends with a TurnKey already present for
	// the project are dropped so a crash-restart of the same turn never
	// double-counts.
	Append(ctx context.Context, rec *models.UsageRecord) error

	// SumCostSince returns total cost for the project since the given time.
	SumCostSince(ctx context.Context, projectID string, since time.Time) (float64, error)

	// CountSince returns the number of records for the project since the
	// given time.
	CountSince(ctx context.Context, projectID string, since time.Time) (int, error)

	// ListSince returns records for the project since the given time,
	// oldest first.
	ListSince(ctx context.Context, projectID string, since time.Time) ([]*models.UsageRecord, error)
}

// Alert describes a soft budget threshold crossing. Alerts never block; the
// runner records them as cost_alert trace events.
type Alert struct {
	Period     string  `json:"period"` // "daily" or "monthly"
	UsedUSD    float64 `json:"used_usd"`
	LimitUSD   float64 `json:"limit_usd"`
	UsedPct    float64 `json:"used_pct"`
	Threshold  float64 `json:"threshold_pct"`
}

// Guard enforces budgets and rate limits for model calls.
type Guard struct {
	store  Store
	prices PriceTable
	logger *slog.Logger
	now    func() time.Time
}

// Config configures the guard.
type Config struct {
	// Prices overrides the default price table.
	Prices PriceTable

	// Logger for guard events.
	Logger *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates a guard backed by the given usage store.
func New(store Store, cfg Config) *Guard {
	if cfg.Prices == nil {
		cfg.Prices = DefaultPrices()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Guard{store: store, prices: cfg.Prices, logger: cfg.Logger, now: cfg.Now}
}

// PreCheck verifies the project is inside its budgets and rate limits. It
// returns a non-nil Alert when usage crossed the alert threshold without
// reaching the hard limit. Hard limit breaches fail with BUDGET_EXCEEDED;
// rate limit breaches with RATE_LIMIT_EXCEEDED.
func (g *Guard) PreCheck(ctx context.Context, projectID string, cfg models.CostConfig) (*Alert, error) {
	now := g.now()
	hardPct := cfg.HardLimitPct
	if hardPct <= 0 {
		hardPct = defaultHardPct
	}
	alertPct := cfg.AlertThresholdPct
	if alertPct <= 0 {
		alertPct = defaultAlertPct
	}

	var alert *Alert
	check := func(period string, since time.Time, limit float64) error {
		if limit <= 0 {
			return nil
		}
		used, err := g.store.SumCostSince(ctx, projectID, since)
		if err != nil {
			return err
		}
		hard := limit * hardPct / 100
		if used >= hard {
			return fault.New(fault.CodeBudgetExceeded, "%s budget exceeded: $%.4f of $%.2f used", period, used, limit).
				With("period", period).
				With("used_usd", used).
				With("limit_usd", limit)
		}
		if pct := used / limit * 100; pct >= alertPct && alert == nil {
			alert = &Alert{
				Period:    period,
				UsedUSD:   used,
				LimitUSD:  limit,
				UsedPct:   pct,
				Threshold: alertPct,
			}
		}
		return nil
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	if err := check("daily", dayStart, cfg.DailyBudgetUSD); err != nil {
		return nil, err
	}
	if err := check("monthly", monthStart, cfg.MonthlyBudgetUSD); err != nil {
		return nil, err
	}

	if cfg.MaxRequestsPerMinute > 0 {
		n, err := g.store.CountSince(ctx, projectID, now.Add(-time.Minute))
		if err != nil {
			return nil, err
		}
		if n >= cfg.MaxRequestsPerMinute {
			return nil, fault.New(fault.CodeRateLimitExceeded, "rate limit exceeded: %d requests in the last minute (max %d)", n, cfg.MaxRequestsPerMinute)
		}
	}
	if cfg.MaxRequestsPerHour > 0 {
		n, err := g.store.CountSince(ctx, projectID, now.Add(-time.Hour))
		if err != nil {
			return nil, err
		}
		if n >= cfg.MaxRequestsPerHour {
			return nil, fault.New(fault.CodeRateLimitExceeded, "rate limit exceeded: %d requests in the last hour (max %d)", n, cfg.MaxRequestsPerHour)
		}
	}

	return alert, nil
}

// RecordUsage computes cost from the price table and appends a usage record.
// The turnKey deduplicates replays of the same turn.
func (g *Guard) RecordUsage(ctx context.Context, projectID, provider, model string, usage models.TokenUsage, turnKey string) (*models.UsageRecord, error) {
	price := g.prices.Lookup(provider, model)
	rec := &models.UsageRecord{
		ProjectID:    projectID,
		Timestamp:    g.now(),
		Provider:     provider,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      price.Cost(usage.InputTokens, usage.OutputTokens),
		TurnKey:      turnKey,
	}
	if err := g.store.Append(ctx, rec); err != nil {
		return nil, err
	}
	g.logger.Debug("usage recorded",
		"project_id", projectID,
		"provider", provider,
		"model", model,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"cost_usd", rec.CostUSD,
	)
	return rec, nil
}

// CheckTurnTokens reports whether a turn's token count is inside the
// configured per-turn cap. A zero cap allows everything.
func CheckTurnTokens(cfg models.CostConfig, tokens int) bool {
	return cfg.MaxTokensPerTurn <= 0 || tokens <= cfg.MaxTokensPerTurn
}

// Summary aggregates usage for reporting.
type Summary struct {
	ProjectID    string  `json:"project_id"`
	Period       string  `json:"period"`
	Requests     int     `json:"requests"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Summarize aggregates a project's usage over a named period: "day",
// "week", or "month".
func (g *Guard) Summarize(ctx context.Context, projectID, period string) (*Summary, error) {
	now := g.now()
	var since time.Time
	switch period {
	case "day":
		since = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case "week":
		since = now.AddDate(0, 0, -7)
	case "month":
		since = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	default:
		return nil, fault.New(fault.CodeValidation, "unknown usage period %q", period)
	}
	recs, err := g.store.ListSince(ctx, projectID, since)
	if err != nil {
		return nil, err
	}
	sum := &Summary{ProjectID: projectID, Period: period}
	for _, r := range recs {
		sum.Requests++
		sum.InputTokens += r.InputTokens
		sum.OutputTokens += r.OutputTokens
		sum.CostUSD += r.CostUSD
	}
	return sum, nil
}

// MemoryStore is an in-memory usage store for tests and dev mode.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*models.UsageRecord
	seen    map[string]struct{} // projectID + "\x00" + turnKey
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]struct{})}
}

func (s *MemoryStore) Append(ctx context.Context, rec *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.TurnKey != "" {
		key := rec.ProjectID + "\x00" + rec.TurnKey
		if _, dup := s.seen[key]; dup {
			return nil
		}
		s.seen[key] = struct{}{}
	}
	clone := *rec
	s.records = append(s.records, &clone)
	return nil
}

func (s *MemoryStore) SumCostSince(ctx context.Context, projectID string, since time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum float64
	for _, r := range s.records {
		if r.ProjectID == projectID && !r.Timestamp.Before(since) {
			sum += r.CostUSD
		}
	}
	return sum, nil
}

func (s *MemoryStore) CountSince(ctx context.Context, projectID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.records {
		if r.ProjectID == projectID && !r.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListSince(ctx context.Context, projectID string, since time.Time) ([]*models.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.UsageRecord
	for _, r := range s.records {
		if r.ProjectID == projectID && !r.Timestamp.Before(since) {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out, nil
}
