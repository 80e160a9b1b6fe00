package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/internal/prompt"
	"github.com/loomhq/loom/pkg/models"
)

func layerKind(raw string) (models.LayerKind, error) {
	switch kind := models.LayerKind(raw); kind {
	case models.LayerIdentity, models.LayerInstructions, models.LayerSafety:
		return kind, nil
	default:
		return "", fault.New(fault.CodeValidation,
			"layer type %q must be identity, instructions, or safety", raw)
	}
}

func (s *Server) handleListLayers(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	var kind models.LayerKind
	if raw := r.URL.Query().Get("layerType"); raw != "" {
		var err error
		kind, err = layerKind(raw)
		if err != nil {
			respondError(w, err)
			return
		}
	}
	list, err := s.cfg.Layers.List(r.Context(), projectID, kind)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, list)
}

type createLayerRequest struct {
	LayerType string `json:"layerType"`
	Content   string `json:"content"`
	Activate  bool   `json:"activate,omitempty"`
}

func (s *Server) handleCreateLayer(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	var body createLayerRequest
	if err := decodeBody(r, &body); err != nil {
		respondError(w, err)
		return
	}
	kind, err := layerKind(body.LayerType)
	if err != nil {
		respondError(w, err)
		return
	}
	if body.Content == "" {
		respondError(w, fault.New(fault.CodeValidation, "layer content is required"))
		return
	}

	version, err := s.cfg.Layers.NextVersion(r.Context(), projectID, kind)
	if err != nil {
		respondError(w, err)
		return
	}
	layer := prompt.NewLayer(projectID, kind, version, body.Content)
	if err := s.cfg.Layers.Create(r.Context(), layer); err != nil {
		respondError(w, err)
		return
	}
	if body.Activate {
		layer, err = s.cfg.Layers.Activate(r.Context(), layer.ID)
		if err != nil {
			respondError(w, err)
			return
		}
	}
	respondData(w, http.StatusCreated, layer)
}

func (s *Server) handleActivateLayer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	layer, err := s.cfg.Layers.Activate(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, layer)
}
