package httpapi

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/robocomic/internal/ttscache"
)

// handleAudio serves audio parked in the in-process blob store. Names are
// content addressed, so responses are immutable.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if s.audio == nil {
		respondError(w, http.StatusNotFound, "not_found", ttscache.ErrBlobNotFound.Error())
		return
	}
	blob, err := s.audio.Get(chi.URLParam(r, "file"))
	if err != nil {
		if errors.Is(err, ttscache.ErrBlobNotFound) {
			respondError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", blob.ContentType)
	w.Header().Set("ETag", `"`+blob.ContentHash+`"`)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(blob.Data))
}
