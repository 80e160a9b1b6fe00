package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/internal/webhook"
)

// handleWebhookIntake accepts a channel provider's delivery and enqueues it
// for async processing. The response only acknowledges receipt; providers
// time out fast and retry on their own schedule.
func (s *Server) handleWebhookIntake(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Webhooks == nil {
		respondError(w, fault.New(fault.CodeConfig, "webhook intake is not enabled").WithStatus(http.StatusServiceUnavailable))
		return
	}
	projectID := chi.URLParam(r, "projectId")
	provider := chi.URLParam(r, "provider")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, fault.Wrap(fault.CodeValidation, err, "failed to read webhook body"))
		return
	}
	if len(body) == 0 || !json.Valid(body) {
		respondError(w, fault.New(fault.CodeValidation, "webhook body must be a JSON document"))
		return
	}

	webhookID := r.Header.Get("X-Webhook-ID")
	if webhookID == "" {
		webhookID = r.URL.Query().Get("webhookId")
	}

	accepted, err := s.cfg.Webhooks.Enqueue(r.Context(), &webhook.Event{
		WebhookID:  webhookID,
		ProjectID:  projectID,
		Provider:   provider,
		Payload:    body,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusAccepted, map[string]bool{"accepted": accepted})
}
