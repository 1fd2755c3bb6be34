// Package shows generates duels and manages the per-user show history and
// custom personas.
package shows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/robocomic/internal/auth"
	"github.com/ent0n29/robocomic/internal/backend"
	"github.com/ent0n29/robocomic/internal/observability"
	"github.com/ent0n29/robocomic/internal/store"
	"github.com/ent0n29/robocomic/internal/transcript"
)

const MsgBackendUnavailable = "The backend is currently unavailable. Please try again in a moment."

var (
	ErrBackendUnavailable = errors.New(MsgBackendUnavailable)
	ErrGenerationFailed   = errors.New("show generation failed")
	ErrLoginRequired      = errors.New("login required")
	ErrInvalidPersona     = errors.New("persona name and description are required")
)

// StageObserver records latency of the generation pipeline.
type StageObserver interface {
	ObserveStage(stage string, d time.Duration)
}

// Generated is the outcome of a successful generation.
type Generated struct {
	Lines  []transcript.Line
	Voices backend.VoiceIDs
	Params store.ShowParams
	// Saved is set when the show was persisted to the user's history.
	Saved *store.ShowSummary
	// SaveErr is set when persisting failed; the show itself is still usable.
	SaveErr error
}

type Service struct {
	api      backend.API
	store    store.Store
	observer StageObserver
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	personas map[string]backend.PersonaInfo
	voices   backend.VoiceIDs
}

func NewService(api backend.API, st store.Store, observer StageObserver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		api:      api,
		store:    st,
		observer: observer,
		logger:   logger,
		now:      time.Now,
	}
}

// Generate validates p, checks backend health and asks the backend for a new
// duel. Shows generated by a logged-in user are saved to their history;
// a failed save is reported in the result, not as an error.
func (s *Service) Generate(ctx context.Context, id auth.Identity, p GenerateParams) (Generated, error) {
	if err := p.Normalize(); err != nil {
		return Generated{}, err
	}
	ctx, span := observability.StartSpan(ctx, "shows.generate")
	defer span.End()
	logger := observability.Logger(ctx)

	catalog := s.refreshMetadata(ctx, id)

	if err := s.api.Health(ctx); err != nil {
		logger.WarnContext(ctx, "backend health probe failed", "error", err)
		return Generated{}, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	req := backend.GenerateShowRequest{
		Comedian1Style:   p.Comedian1,
		Comedian2Style:   p.Comedian2,
		Comedian1Persona: descriptor(catalog, p.Comedian1),
		Comedian2Persona: descriptor(catalog, p.Comedian2),
		Lang:             p.Lang,
		Mode:             p.mode(),
		Topic:            p.Topic,
		NumRounds:        p.NumRounds,
		BuildContext:     p.BuildContext,
		Temperature:      p.Temperature,
	}
	start := time.Now()
	lines, err := s.api.GenerateShow(ctx, req)
	if err != nil {
		return Generated{}, fmt.Errorf("%w: %w", ErrGenerationFailed, backend.AsAPIError(err, backend.MsgGenerateShowFailed))
	}
	s.stage("generate_show", time.Since(start))
	logger.InfoContext(ctx, "show generated", "lines", len(lines), "rounds", p.NumRounds, "lang", p.Lang)

	out := Generated{Lines: lines, Voices: s.cachedVoices(), Params: p.Stored()}
	if id.Anonymous() || len(lines) == 0 {
		return out, nil
	}
	saved, err := s.store.SaveShow(ctx, store.Show{
		UserID: id.UserID,
		Title:  Title(p.Comedian1, p.Comedian2, s.now()),
		Data:   store.ShowData{History: lines, Params: out.Params},
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to save show", "user_id", id.UserID, "error", err)
		out.SaveErr = err
		return out, nil
	}
	out.Saved = &store.ShowSummary{ID: saved.ID, Title: saved.Title, CreatedAt: saved.CreatedAt}
	return out, nil
}

// ResolveHistory picks the transcript a view shows after a generation
// attempt. Only a backend generation failure that is not a rate limit
// clears the transcript; rejected params and failed health checks keep it.
func ResolveHistory(current, generated []transcript.Line, err error) []transcript.Line {
	if err == nil {
		return generated
	}
	if !errors.Is(err, ErrGenerationFailed) || backend.IsRateLimited(err) {
		return current
	}
	return nil
}

// refreshMetadata reloads personas and voice ids. Failures keep the last
// known values.
func (s *Service) refreshMetadata(ctx context.Context, id auth.Identity) map[string]backend.PersonaInfo {
	var (
		catalog map[string]backend.PersonaInfo
		voices  backend.VoiceIDs
		voiceOK bool
	)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c, err := s.Catalog(ctx, id)
		if err != nil {
			observability.Logger(ctx).WarnContext(ctx, "persona refresh failed", "error", err)
			return
		}
		catalog = c
	}()
	go func() {
		defer wg.Done()
		v, err := s.api.VoiceIDs(ctx)
		if err != nil {
			observability.Logger(ctx).WarnContext(ctx, "voice id refresh failed", "error", err)
			return
		}
		voices, voiceOK = v, true
	}()
	wg.Wait()

	if voiceOK {
		s.mu.Lock()
		s.voices = voices
		s.mu.Unlock()
	}
	if catalog == nil {
		s.mu.RLock()
		catalog = maps.Clone(s.personas)
		s.mu.RUnlock()
	}
	return catalog
}

// Catalog returns the backend personas merged with the caller's own. A user
// persona replaces a backend persona of the same name.
func (s *Service) Catalog(ctx context.Context, id auth.Identity) (map[string]backend.PersonaInfo, error) {
	var (
		common map[string]backend.PersonaInfo
		mine   []store.Persona
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		common, err = s.api.Personas(gctx)
		return err
	})
	if !id.Anonymous() {
		g.Go(func() error {
			var err error
			mine, err = s.store.ListPersonas(gctx, id.UserID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, backend.AsAPIError(err, backend.MsgPersonasFailed)
	}

	s.mu.Lock()
	s.personas = maps.Clone(common)
	s.mu.Unlock()

	out := make(map[string]backend.PersonaInfo, len(common)+len(mine))
	maps.Copy(out, common)
	for _, p := range mine {
		out[p.Name] = backend.PersonaInfo{
			Style:         p.Name,
			Description:   p.Description,
			DescriptionPL: p.DescriptionPL,
			Custom:        true,
		}
	}
	return out, nil
}

// VoiceIDs returns the voices last reported by the backend, fetching them
// on first use.
func (s *Service) VoiceIDs(ctx context.Context) (backend.VoiceIDs, error) {
	if v := s.cachedVoices(); v != (backend.VoiceIDs{}) {
		return v, nil
	}
	v, err := s.api.VoiceIDs(ctx)
	if err != nil {
		return backend.VoiceIDs{}, err
	}
	s.mu.Lock()
	s.voices = v
	s.mu.Unlock()
	return v, nil
}

func (s *Service) cachedVoices() backend.VoiceIDs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.voices
}

// Judge asks the backend to pick a winner.
func (s *Service) Judge(ctx context.Context, comedian1, comedian2 string, history []transcript.Line, lang string) (backend.JudgeResult, error) {
	ctx, span := observability.StartSpan(ctx, "shows.judge")
	defer span.End()
	res, err := s.api.JudgeShow(ctx, backend.JudgeRequest{
		Comedian1Name: comedian1,
		Comedian2Name: comedian2,
		History:       history,
		Lang:          lang,
	})
	if err != nil {
		return backend.JudgeResult{}, backend.AsAPIError(err, backend.MsgJudgeFailed)
	}
	return res, nil
}

func (s *Service) ListShows(ctx context.Context, id auth.Identity) ([]store.ShowSummary, error) {
	if id.Anonymous() {
		return nil, ErrLoginRequired
	}
	return s.store.ListShows(ctx, id.UserID)
}

func (s *Service) OpenShow(ctx context.Context, id auth.Identity, showID string) (store.Show, error) {
	if id.Anonymous() {
		return store.Show{}, ErrLoginRequired
	}
	return s.store.GetShow(ctx, id.UserID, showID)
}

func (s *Service) DeleteShow(ctx context.Context, id auth.Identity, showID string) error {
	if id.Anonymous() {
		return ErrLoginRequired
	}
	return s.store.DeleteShow(ctx, id.UserID, showID)
}

func (s *Service) ListPersonas(ctx context.Context, id auth.Identity) ([]store.Persona, error) {
	if id.Anonymous() {
		return nil, ErrLoginRequired
	}
	return s.store.ListPersonas(ctx, id.UserID)
}

// SavePersona creates or updates one of the caller's personas.
func (s *Service) SavePersona(ctx context.Context, id auth.Identity, p store.Persona) (store.Persona, error) {
	if id.Anonymous() {
		return store.Persona{}, ErrLoginRequired
	}
	p.Name = strings.TrimSpace(p.Name)
	p.Description = strings.TrimSpace(p.Description)
	p.DescriptionPL = strings.TrimSpace(p.DescriptionPL)
	if p.Name == "" || p.Description == "" {
		return store.Persona{}, ErrInvalidPersona
	}
	p.UserID = id.UserID
	return s.store.SavePersona(ctx, p)
}

func (s *Service) DeletePersona(ctx context.Context, id auth.Identity, personaID string) error {
	if id.Anonymous() {
		return ErrLoginRequired
	}
	return s.store.DeletePersona(ctx, id.UserID, personaID)
}

func (s *Service) stage(name string, d time.Duration) {
	if s.observer != nil {
		s.observer.ObserveStage(name, d)
	}
}

// descriptor sends custom personas inline; backend personas go by name.
func descriptor(catalog map[string]backend.PersonaInfo, name string) *backend.PersonaDescriptor {
	info, ok := catalog[name]
	if !ok || !info.Custom {
		return nil
	}
	return &backend.PersonaDescriptor{
		Name:          name,
		Description:   info.Description,
		DescriptionPL: info.DescriptionPL,
	}
}
