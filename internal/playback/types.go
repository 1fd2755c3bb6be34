// Package playback holds the per-view playback state machine and routes play
// requests through the audio cache tiers.
package playback

import (
	"errors"
	"time"

	"github.com/ent0n29/robocomic/internal/transcript"
)

// Status is the playback state of one line.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusPlaying Status = "playing"
)

// NoActiveLine marks that no line holds the active slot.
const NoActiveLine = -1

var (
	ErrUnknownLine = errors.New("line index out of range")
	ErrNotPlayable = errors.New("line is not eligible for audio")
)

// Entry is the playback state of one line. AudioURL is set only while the
// line is ready or playing.
type Entry struct {
	LineIndex int    `json:"line_index"`
	Status    Status `json:"status"`
	AudioURL  string `json:"audio_url,omitempty"`
	Cached    bool   `json:"cached"`
	Playable  bool   `json:"playable"`
	CacheKey  string `json:"cache_key,omitempty"`
}

// Notice kinds.
const (
	NoticeTTSRateLimited  = "tts_rate_limited"
	NoticeTTSUnavailable  = "tts_unavailable"
	NoticeGenerateFailed  = "generate_failed"
	NoticeRateLimited     = "rate_limited"
	NoticeBackendDown     = "backend_unavailable"
	NoticeNetwork         = "network_error"
	NoticeJudgeFailed     = "judge_failed"
	NoticePersonasFailed  = "personas_failed"
	NoticeShowStoreFailed = "show_store_failed"
)

// User-facing copy for synthesis failures.
const (
	MsgTTSRateLimited = "Text-to-speech usage limit reached. Please wait a moment and try again."
	MsgTTSUnavailable = "Text-to-speech is temporarily unavailable (likely out of credits). Please try again later or contact support."
)

// Notice is a transient banner. It expires on its own and can be dismissed.
type Notice struct {
	ID        uint64    `json:"id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Status    int       `json:"status,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// State is a consistent copy of a view's playback state.
type State struct {
	Version    uint64               `json:"version"`
	Generation uint64               `json:"generation"`
	Lang       string               `json:"lang"`
	Transcript transcript.Segmented `json:"transcript"`
	Entries    []Entry              `json:"entries"`
	ActiveLine int                  `json:"active_line"`
	Notice     *Notice              `json:"notice,omitempty"`
}

// Entry returns the state of line idx.
func (s State) Entry(idx int) (Entry, bool) {
	if idx < 0 || idx >= len(s.Entries) {
		return Entry{}, false
	}
	return s.Entries[idx], true
}
