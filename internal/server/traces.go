package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/loomhq/loom/internal/fault"
)

func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projectID := q.Get("projectId")
	if projectID == "" {
		respondError(w, fault.New(fault.CodeValidation, "projectId query parameter is required"))
		return
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, fault.New(fault.CodeValidation, "limit %q is not a valid count", raw))
			return
		}
		limit = n
	}
	list, err := s.cfg.Traces.ListByProject(r.Context(), projectID, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, list)
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tr, err := s.cfg.Traces.FindByID(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if tr == nil {
		respondNotFound(w, "trace %q not found", id)
		return
	}
	respondData(w, http.StatusOK, tr)
}
