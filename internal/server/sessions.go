package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loomhq/loom/pkg/models"
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	status := models.SessionStatus(r.URL.Query().Get("status"))
	list, err := s.cfg.Sessions.ListByProject(r.Context(), projectID, status)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, list)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.cfg.Sessions.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if sess == nil {
		respondNotFound(w, "session %q not found", id)
		return
	}
	respondData(w, http.StatusOK, sess)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.cfg.Sessions.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if sess == nil {
		respondNotFound(w, "session %q not found", id)
		return
	}
	msgs, err := s.cfg.Sessions.Messages(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, msgs)
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	list, err := s.cfg.Contacts.List(r.Context(), projectID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, list)
}
