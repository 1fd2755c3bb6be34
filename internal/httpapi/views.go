package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/robocomic/internal/backend"
	"github.com/ent0n29/robocomic/internal/observability"
	"github.com/ent0n29/robocomic/internal/playback"
	"github.com/ent0n29/robocomic/internal/session"
	"github.com/ent0n29/robocomic/internal/shows"
)

const refreshCachedTimeout = 10 * time.Second

func (s *Server) handleCreateView(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	lang := strings.ToLower(strings.TrimSpace(req.Lang))
	if lang != "" && lang != backend.LangEnglish && lang != backend.LangPolish {
		respondError(w, http.StatusBadRequest, "invalid_request", "lang must be en or pl")
		return
	}

	v := s.views.Create(id.UserID, lang)
	c, err := s.views.Coordinator(v.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	c.Reset(playback.Input{Lang: v.Lang})
	s.syncActiveViews()
	s.viewEvent("created")
	respondJSON(w, http.StatusCreated, s.describe(v, c))
}

func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	v, _, c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.describe(v, c))
}

func (s *Server) handleEndView(w http.ResponseWriter, r *http.Request) {
	v, _, ok := s.view(w, r)
	if !ok {
		return
	}
	ended, err := s.views.End(v.ID)
	if err != nil {
		respondError(w, http.StatusNotFound, "view_not_found", err.Error())
		return
	}
	s.syncActiveViews()
	s.viewEvent("ended")
	respondJSON(w, http.StatusOK, ended)
}

// handleGenerate runs a generation for the view. A rate-limited failure
// keeps the current transcript on screen; any other failure clears it.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	v, id, c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	var params shows.GenerateParams
	if err := decodeJSON(r, &params); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "a show form payload is required")
		return
	}
	if started, err := s.views.BeginGenerate(v.ID); err != nil {
		respondServiceError(w, err)
		return
	} else if !started {
		respondError(w, http.StatusConflict, "generation_in_progress", "a show is already being generated for this view")
		return
	}
	c.DismissNotice()

	out, err := s.shows.Generate(r.Context(), id, params)
	if err != nil {
		s.failGeneration(r.Context(), v, c, err)
		respondServiceError(w, err)
		return
	}

	stored := out.Params
	updated, err := s.views.Update(v.ID, func(v *session.View) {
		v.Generating = false
		v.History = out.Lines
		v.Voices = out.Voices
		v.Params = &stored
		v.Lang = stored.Lang
		v.Comedian1Name = stored.Comedian1Style
		v.Comedian2Name = stored.Comedian2Style
		v.Judge = nil
		v.SelectedShowID = ""
		if out.Saved != nil {
			v.SelectedShowID = out.Saved.ID
		}
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	c.Reset(playback.Input{Lines: out.Lines, Lang: stored.Lang, Voices: out.Voices})
	s.refreshInBackground(r.Context(), c)
	if out.SaveErr != nil {
		c.SetNotice(playback.NoticeShowStoreFailed, "The show was generated but could not be saved to your history.", 0)
	}
	s.viewEvent("generated")
	respondJSON(w, http.StatusOK, s.describe(updated, c))
}

func (s *Server) failGeneration(ctx context.Context, v *session.View, c *playback.Coordinator, err error) {
	next := shows.ResolveHistory(v.History, nil, err)
	cleared := next == nil && len(v.History) > 0
	_, _ = s.views.Update(v.ID, func(v *session.View) {
		v.Generating = false
		if cleared {
			v.History = nil
			v.Judge = nil
			v.SelectedShowID = ""
		}
	})
	if cleared {
		c.Reset(playback.Input{Lang: v.Lang, Voices: v.Voices})
	}
	if errors.Is(err, shows.ErrInvalidParams) {
		return
	}
	kind, msg, status := generationNotice(err)
	c.SetNotice(kind, msg, status)
	observability.Logger(ctx).WarnContext(ctx, "show generation failed", "view_id", v.ID, "notice", kind, "error", err)
}

func generationNotice(err error) (kind, message string, status int) {
	if errors.Is(err, shows.ErrBackendUnavailable) {
		return playback.NoticeBackendDown, shows.MsgBackendUnavailable, 0
	}
	apiErr := backend.AsAPIError(err, backend.MsgGenerateShowFailed)
	message = apiErr.Message
	if message == "" {
		message = backend.MsgGenerateShowFailed
	}
	switch {
	case apiErr.RateLimited():
		return playback.NoticeRateLimited, message, apiErr.Status
	case apiErr.Network():
		return playback.NoticeNetwork, message, 0
	default:
		return playback.NoticeGenerateFailed, message, apiErr.Status
	}
}

type selectShowRequest struct {
	ShowID string `json:"show_id"`
}

// handleSelectShow loads a saved show into the view and marks which lines
// already have audio.
func (s *Server) handleSelectShow(w http.ResponseWriter, r *http.Request) {
	v, id, c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	var req selectShowRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.ShowID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "show_id is required")
		return
	}
	show, err := s.shows.OpenShow(r.Context(), id, strings.TrimSpace(req.ShowID))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	voices, err := s.shows.VoiceIDs(r.Context())
	if err != nil {
		observability.Logger(r.Context()).WarnContext(r.Context(), "voice ids unavailable; using defaults", "error", err)
	}

	params := show.Data.Params
	lang := params.Lang
	if lang == "" {
		lang = v.Lang
	}
	updated, err := s.views.Update(v.ID, func(v *session.View) {
		v.History = show.Data.History
		v.Voices = voices
		v.Params = &params
		v.Lang = lang
		v.Comedian1Name = params.Comedian1Style
		v.Comedian2Name = params.Comedian2Style
		v.SelectedShowID = show.ID
		v.Judge = nil
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	c.Reset(playback.Input{Lines: show.Data.History, Lang: lang, Voices: voices})

	ctx, cancel := context.WithTimeout(r.Context(), refreshCachedTimeout)
	defer cancel()
	c.RefreshCached(ctx)
	s.viewEvent("show_selected")
	respondJSON(w, http.StatusOK, s.describe(updated, c))
}

func (s *Server) handleDeselect(w http.ResponseWriter, r *http.Request) {
	v, _, c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	updated, err := s.views.Update(v.ID, func(v *session.View) {
		v.History = nil
		v.Params = nil
		v.SelectedShowID = ""
		v.Judge = nil
		v.Comedian1Name, v.Comedian2Name = "", ""
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	c.Reset(playback.Input{Lang: updated.Lang, Voices: updated.Voices})
	respondJSON(w, http.StatusOK, s.describe(updated, c))
}

func lineParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(chi.URLParam(r, "line"))
	if err != nil || idx < 0 {
		respondError(w, http.StatusBadRequest, "invalid_line", "line must be a non-negative integer")
		return 0, false
	}
	return idx, true
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	v, _, c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	idx, ok := lineParam(w, r)
	if !ok {
		return
	}
	if err := c.Play(r.Context(), idx); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.describe(v, c))
}

func (s *Server) handleStarted(w http.ResponseWriter, r *http.Request) {
	s.lineAction(w, r, (*playback.Coordinator).Started)
}

func (s *Server) handleEnded(w http.ResponseWriter, r *http.Request) {
	s.lineAction(w, r, (*playback.Coordinator).Ended)
}

func (s *Server) lineAction(w http.ResponseWriter, r *http.Request, action func(*playback.Coordinator, int) error) {
	v, _, c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	idx, ok := lineParam(w, r)
	if !ok {
		return
	}
	if err := action(c, idx); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.describe(v, c))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	v, _, c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	c.Stop()
	respondJSON(w, http.StatusOK, s.describe(v, c))
}

func (s *Server) handleDismissError(w http.ResponseWriter, r *http.Request) {
	v, _, c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	c.DismissNotice()
	respondJSON(w, http.StatusOK, s.describe(v, c))
}

// handleJudge returns the verdict for the current transcript, asking the
// backend at most once per transcript.
func (s *Server) handleJudge(w http.ResponseWriter, r *http.Request) {
	v, _, c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	if v.Judge != nil {
		respondJSON(w, http.StatusOK, v.Judge)
		return
	}
	if len(v.History) == 0 {
		respondError(w, http.StatusConflict, "no_show", "there is no show to judge")
		return
	}

	generation := c.Snapshot().Generation
	res, err := s.shows.Judge(r.Context(), v.Comedian1Name, v.Comedian2Name, v.History, v.Lang)
	if err != nil {
		apiErr := backend.AsAPIError(err, backend.MsgJudgeFailed)
		c.SetNotice(playback.NoticeJudgeFailed, apiErr.Message, apiErr.Status)
		respondServiceError(w, err)
		return
	}
	if c.Snapshot().Generation == generation {
		_, _ = s.views.Update(v.ID, func(v *session.View) { v.Judge = &res })
	}
	respondJSON(w, http.StatusOK, res)
}

// refreshInBackground marks cached lines without holding up the response.
func (s *Server) refreshInBackground(ctx context.Context, c *playback.Coordinator) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshCachedTimeout)
	go func() {
		defer cancel()
		c.RefreshCached(ctx)
	}()
}
