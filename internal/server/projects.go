package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	list, err := s.cfg.Projects.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, list)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.cfg.Projects.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if p == nil {
		respondNotFound(w, "project %q not found", id)
		return
	}
	respondData(w, http.StatusOK, p)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var p models.Project
	if err := decodeBody(r, &p); err != nil {
		respondError(w, err)
		return
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := s.cfg.Projects.Create(r.Context(), &p); err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusCreated, &p)
}

// handlePatchProject merges the request body over the stored project. The ID
// is immutable.
func (s *Server) handlePatchProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := s.cfg.Projects.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if existing == nil {
		respondNotFound(w, "project %q not found", id)
		return
	}

	var patch json.RawMessage
	if err := decodeBody(r, &patch); err != nil {
		respondError(w, err)
		return
	}
	updated := *existing
	if err := json.Unmarshal(patch, &updated); err != nil {
		respondError(w, fault.Wrap(fault.CodeValidation, err, "invalid project patch"))
		return
	}
	if updated.ID != id {
		respondError(w, fault.New(fault.CodeValidation, "project id is immutable"))
		return
	}
	updated.UpdatedAt = time.Now()
	if err := s.cfg.Projects.Update(r.Context(), &updated); err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, &updated)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.cfg.Projects.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if p == nil {
		respondNotFound(w, "project %q not found", id)
		return
	}

	// Deletes never cascade: the project must be childless.
	sess, err := s.cfg.Sessions.ListByProject(r.Context(), id, "")
	if err != nil {
		respondError(w, err)
		return
	}
	if len(sess) > 0 {
		respondError(w, fault.New(fault.CodeValidation,
			"project %q still has %d sessions", id, len(sess)))
		return
	}
	cts, err := s.cfg.Contacts.List(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if len(cts) > 0 {
		respondError(w, fault.New(fault.CodeValidation,
			"project %q still has %d contacts", id, len(cts)))
		return
	}

	if err := s.cfg.Projects.Delete(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"id": id})
}
