package httpapi

import (
	"net/http"

	"github.com/ent0n29/robocomic/internal/backend"
)

// handlePersonaCatalog lists the personas the caller can pick from: the
// backend's own merged with the caller's custom ones.
func (s *Server) handlePersonaCatalog(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	catalog, err := s.shows.Catalog(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"personas": catalog})
}

func (s *Server) handleVoiceIDs(w http.ResponseWriter, r *http.Request) {
	voices, err := s.shows.VoiceIDs(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, voices)
}

func (s *Server) handleLLMConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.backend.LLMConfig(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleTemperaturePresets(w http.ResponseWriter, r *http.Request) {
	presets, err := s.backend.TemperaturePresets(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if presets == nil {
		presets = []backend.TemperaturePreset{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"presets": presets})
}
