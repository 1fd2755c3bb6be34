package session

import (
	"time"

	"github.com/ent0n29/robocomic/internal/playback"
)

// CreateRequest is the payload for opening a view.
type CreateRequest struct {
	Lang string `json:"lang"`
}

// ViewResponse is a view together with its playback state.
type ViewResponse struct {
	View
	InactivityTTLMS int64          `json:"inactivity_ttl_ms"`
	Playback        playback.State `json:"playback"`
}

// Describe joins a view with its playback snapshot.
func Describe(v *View, state playback.State, ttl time.Duration) ViewResponse {
	return ViewResponse{View: *v, InactivityTTLMS: ttl.Milliseconds(), Playback: state}
}
