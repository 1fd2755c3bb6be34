package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/robocomic/internal/auth"
	"github.com/ent0n29/robocomic/internal/backend"
	"github.com/ent0n29/robocomic/internal/config"
	"github.com/ent0n29/robocomic/internal/observability"
	"github.com/ent0n29/robocomic/internal/playback"
	"github.com/ent0n29/robocomic/internal/session"
	"github.com/ent0n29/robocomic/internal/shows"
	"github.com/ent0n29/robocomic/internal/store"
	"github.com/ent0n29/robocomic/internal/synth"
	"github.com/ent0n29/robocomic/internal/ttscache"
)

// Deps are the collaborators the HTTP layer drives.
type Deps struct {
	Config   config.Config
	Views    *session.Manager
	Shows    *shows.Service
	Backend  backend.API
	Verifier auth.Verifier
	Audio    *ttscache.MemoryBlobStore
	Metrics  *observability.Metrics
	// Ready reports whether storage dependencies are reachable.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
}

type Server struct {
	cfg      config.Config
	views    *session.Manager
	shows    *shows.Service
	backend  backend.API
	verifier auth.Verifier
	audio    *ttscache.MemoryBlobStore
	metrics  *observability.Metrics
	ready    func(ctx context.Context) error
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(d Deps) *Server {
	if d.Verifier == nil {
		d.Verifier = auth.Anonymous{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	cfg := d.Config
	return &Server{
		cfg:      cfg,
		views:    d.Views,
		shows:    d.Shows,
		backend:  d.Backend,
		verifier: d.Verifier,
		audio:    d.Audio,
		metrics:  d.Metrics,
		ready:    d.Ready,
		logger:   d.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observability.Middleware(s.logger))
	if s.cfg.AllowAnyOrigin {
		r.Use(allowAnyOrigin)
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Route("/v1/meta", func(r chi.Router) {
		r.Get("/personas", s.handlePersonaCatalog)
		r.Get("/voice-ids", s.handleVoiceIDs)
		r.Get("/llm-config", s.handleLLMConfig)
		r.Get("/temperature-presets", s.handleTemperaturePresets)
	})

	r.Post("/v1/views", s.handleCreateView)
	r.Route("/v1/views/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetView)
		r.Post("/end", s.handleEndView)
		r.Post("/generate", s.handleGenerate)
		r.Post("/select-show", s.handleSelectShow)
		r.Post("/deselect", s.handleDeselect)
		r.Post("/play/{line}", s.handlePlay)
		r.Post("/started/{line}", s.handleStarted)
		r.Post("/ended/{line}", s.handleEnded)
		r.Post("/stop", s.handleStop)
		r.Post("/judge", s.handleJudge)
		r.Post("/dismiss-error", s.handleDismissError)
		r.Get("/ws", s.handleViewWS)
	})

	r.Get("/v1/shows", s.handleListShows)
	r.Get("/v1/shows/{id}", s.handleGetShow)
	r.Delete("/v1/shows/{id}", s.handleDeleteShow)

	r.Get("/v1/personas", s.handleListPersonas)
	r.Post("/v1/personas", s.handleSavePersona)
	r.Put("/v1/personas/{id}", s.handleSavePersona)
	r.Delete("/v1/personas/{id}", s.handleDeletePersona)

	r.Get("/v1/audio/{file}", s.handleAudio)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_views": s.views.ActiveCount(),
		"backend_mode": s.cfg.BackendMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"storage_remote": s.cfg.SupabaseEnabled(),
		"database":       s.cfg.DatabaseURL != "",
	})
}

// identify resolves the caller. Browsers cannot set headers on websocket
// upgrades, so access_token is also read from the query string.
func (s *Server) identify(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	token := auth.BearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	id, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired access token")
		return auth.Identity{}, false
	}
	return id, true
}

// view loads the view named in the path and checks that the caller owns it.
func (s *Server) view(w http.ResponseWriter, r *http.Request) (*session.View, auth.Identity, bool) {
	id, ok := s.identify(w, r)
	if !ok {
		return nil, auth.Identity{}, false
	}
	viewID := strings.TrimSpace(chi.URLParam(r, "id"))
	if viewID == "" {
		respondError(w, http.StatusBadRequest, "invalid_view_id", "missing view id")
		return nil, auth.Identity{}, false
	}
	v, err := s.views.Get(viewID)
	if err != nil || (v.UserID != "" && v.UserID != id.UserID) {
		respondError(w, http.StatusNotFound, "view_not_found", session.ErrNotFound.Error())
		return nil, auth.Identity{}, false
	}
	return v, id, true
}

// coordinator is view plus the view's playback coordinator.
func (s *Server) coordinator(w http.ResponseWriter, r *http.Request) (*session.View, auth.Identity, *playback.Coordinator, bool) {
	v, id, ok := s.view(w, r)
	if !ok {
		return nil, auth.Identity{}, nil, false
	}
	c, err := s.views.Coordinator(v.ID)
	if err != nil {
		respondError(w, http.StatusGone, "view_ended", err.Error())
		return nil, auth.Identity{}, nil, false
	}
	return v, id, c, true
}

func (s *Server) describe(v *session.View, c *playback.Coordinator) session.ViewResponse {
	return session.Describe(v, c.Snapshot(), s.views.InactivityTimeout())
}

func (s *Server) syncActiveViews() {
	if s.metrics != nil {
		s.metrics.ActiveViews.Set(float64(s.views.ActiveCount()))
	}
}

func (s *Server) viewEvent(event string) {
	if s.metrics != nil {
		s.metrics.ViewEvents.WithLabelValues(event).Inc()
	}
}

func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondServiceError maps domain errors onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, shows.ErrLoginRequired):
		respondError(w, http.StatusUnauthorized, "login_required", "sign in to use saved shows and personas")
	case errors.Is(err, session.ErrEnded):
		respondError(w, http.StatusGone, "view_ended", err.Error())
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "view_not_found", err.Error())
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, shows.ErrInvalidParams), errors.Is(err, shows.ErrInvalidPersona):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, shows.ErrBackendUnavailable):
		respondError(w, http.StatusServiceUnavailable, playback.NoticeBackendDown, shows.MsgBackendUnavailable)
	case errors.Is(err, synth.ErrRateLimited):
		respondError(w, http.StatusTooManyRequests, playback.NoticeTTSRateLimited, playback.MsgTTSRateLimited)
	case errors.Is(err, synth.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, playback.NoticeTTSUnavailable, playback.MsgTTSUnavailable)
	case errors.Is(err, playback.ErrUnknownLine):
		respondError(w, http.StatusNotFound, "unknown_line", err.Error())
	case errors.Is(err, playback.ErrNotPlayable):
		respondError(w, http.StatusConflict, "not_playable", err.Error())
	case errors.Is(err, context.Canceled):
		respondError(w, 499, "canceled", err.Error())
	case errors.As(err, &apiErr):
		switch {
		case apiErr.RateLimited():
			respondError(w, http.StatusTooManyRequests, playback.NoticeRateLimited, apiErr.Message)
		case apiErr.Network():
			respondError(w, http.StatusBadGateway, playback.NoticeNetwork, apiErr.Message)
		case apiErr.Status >= 400 && apiErr.Status < 500:
			respondError(w, apiErr.Status, "backend_rejected", apiErr.Message)
		default:
			respondError(w, http.StatusBadGateway, "backend_error", apiErr.Message)
		}
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", backend.MsgUnexpectedError)
	}
}
