package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/robocomic/internal/store"
)

func (s *Server) handleListShows(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	list, err := s.shows.ListShows(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"shows": list})
}

func (s *Server) handleGetShow(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	show, err := s.shows.OpenShow(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, show)
}

func (s *Server) handleDeleteShow(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	if err := s.shows.DeleteShow(r.Context(), id, chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	list, err := s.shows.ListPersonas(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"personas": list})
}

// handleSavePersona serves both create (POST) and update (PUT /{id}).
func (s *Server) handleSavePersona(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	var p store.Persona
	if err := decodeJSON(r, &p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "a persona payload is required")
		return
	}
	p.ID = strings.TrimSpace(chi.URLParam(r, "id"))
	saved, err := s.shows.SavePersona(r.Context(), id, p)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	status := http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusCreated
	}
	respondJSON(w, status, saved)
}

func (s *Server) handleDeletePersona(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	if err := s.shows.DeletePersona(r.Context(), id, chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
