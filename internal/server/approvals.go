package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loomhq/loom/pkg/models"
)

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	// "pending" is the default filter; "all" lifts it.
	status := models.ApprovalPending
	switch q.Get("status") {
	case "", "pending":
	case "all":
		status = ""
	default:
		status = models.ApprovalStatus(q.Get("status"))
	}
	list, err := s.cfg.Approvals.List(r.Context(), q.Get("projectId"), status)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, list)
}

type approvalDecision struct {
	By   string `json:"by,omitempty"`
	Note string `json:"note,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.resolveApproval(w, r, true)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.resolveApproval(w, r, false)
}

func (s *Server) resolveApproval(w http.ResponseWriter, r *http.Request, approve bool) {
	id := chi.URLParam(r, "id")
	var body approvalDecision
	if r.ContentLength > 0 {
		if err := decodeBody(r, &body); err != nil {
			respondError(w, err)
			return
		}
	}
	var (
		a   *models.Approval
		err error
	)
	if approve {
		a, err = s.cfg.Approvals.Approve(r.Context(), id, body.By, body.Note)
	} else {
		a, err = s.cfg.Approvals.Reject(r.Context(), id, body.By, body.Note)
	}
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, a)
}
