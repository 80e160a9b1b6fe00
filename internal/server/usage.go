package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

// usageSummary aggregates a project's usage over a period.
type usageSummary struct {
	ProjectID    string                `json:"project_id"`
	Period       string                `json:"period"`
	Since        time.Time             `json:"since"`
	TotalCostUSD float64               `json:"total_cost_usd"`
	Requests     int                   `json:"requests"`
	InputTokens  int                   `json:"input_tokens"`
	OutputTokens int                   `json:"output_tokens"`
	Records      []*models.UsageRecord `json:"records"`
}

func periodStart(period string, now time.Time) (time.Time, error) {
	switch period {
	case "", "day":
		return now.Add(-24 * time.Hour), nil
	case "week":
		return now.Add(-7 * 24 * time.Hour), nil
	case "month":
		return now.Add(-30 * 24 * time.Hour), nil
	default:
		return time.Time{}, fault.New(fault.CodeValidation,
			"period %q must be day, week, or month", period)
	}
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	period := r.URL.Query().Get("period")
	since, err := periodStart(period, time.Now())
	if err != nil {
		respondError(w, err)
		return
	}
	if period == "" {
		period = "day"
	}

	records, err := s.cfg.Usage.ListSince(r.Context(), projectID, since)
	if err != nil {
		respondError(w, err)
		return
	}
	summary := usageSummary{
		ProjectID: projectID,
		Period:    period,
		Since:     since,
		Records:   records,
	}
	for _, rec := range records {
		summary.TotalCostUSD += rec.CostUSD
		summary.Requests++
		summary.InputTokens += rec.InputTokens
		summary.OutputTokens += rec.OutputTokens
	}
	respondData(w, http.StatusOK, summary)
}

// overview is the dashboard rollup across all projects.
type overview struct {
	Projects         int     `json:"projects"`
	ActiveSessions   int     `json:"active_sessions"`
	PendingApprovals int     `json:"pending_approvals"`
	CostTodayUSD     float64 `json:"cost_today_usd"`
	RequestsToday    int     `json:"requests_today"`
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := s.cfg.Projects.List(ctx)
	if err != nil {
		respondError(w, err)
		return
	}
	since := time.Now().Add(-24 * time.Hour)

	ov := overview{Projects: len(list)}
	for _, p := range list {
		active, err := s.cfg.Sessions.ListByProject(ctx, p.ID, models.SessionActive)
		if err != nil {
			respondError(w, err)
			return
		}
		ov.ActiveSessions += len(active)

		cost, err := s.cfg.Usage.SumCostSince(ctx, p.ID, since)
		if err != nil {
			respondError(w, err)
			return
		}
		ov.CostTodayUSD += cost

		n, err := s.cfg.Usage.CountSince(ctx, p.ID, since)
		if err != nil {
			respondError(w, err)
			return
		}
		ov.RequestsToday += n
	}

	pending, err := s.cfg.Approvals.List(ctx, "", models.ApprovalPending)
	if err != nil {
		respondError(w, err)
		return
	}
	ov.PendingApprovals = len(pending)

	respondData(w, http.StatusOK, ov)
}
