package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore keeps shows and personas in process for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	shows    map[string]Show
	personas map[string]Persona
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		shows:    make(map[string]Show),
		personas: make(map[string]Persona),
	}
}

func newID() string { return uuid.NewString() }

func (s *InMemoryStore) SaveShow(_ context.Context, show Show) (Show, error) {
	show = prepareShow(show)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shows[show.ID] = show
	return show, nil
}

func (s *InMemoryStore) ListShows(_ context.Context, userID string) ([]ShowSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ShowSummary, 0)
	for _, show := range s.shows {
		if show.UserID != userID {
			continue
		}
		out = append(out, ShowSummary{ID: show.ID, Title: show.Title, CreatedAt: show.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) GetShow(_ context.Context, userID, id string) (Show, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	show, ok := s.shows[id]
	if !ok || show.UserID != userID {
		return Show{}, ErrNotFound
	}
	return show, nil
}

func (s *InMemoryStore) DeleteShow(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	show, ok := s.shows[id]
	if !ok || show.UserID != userID {
		return ErrNotFound
	}
	delete(s.shows, id)
	return nil
}

func (s *InMemoryStore) SavePersona(_ context.Context, p Persona) (Persona, error) {
	p = preparePersona(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.personas[p.ID]; ok {
		if existing.UserID != p.UserID {
			return Persona{}, ErrNotFound
		}
		p.CreatedAt = existing.CreatedAt
	}
	s.personas[p.ID] = p
	return p, nil
}

func (s *InMemoryStore) ListPersonas(_ context.Context, userID string) ([]Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Persona, 0)
	for _, p := range s.personas {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) DeletePersona(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.personas[id]
	if !ok || p.UserID != userID {
		return ErrNotFound
	}
	delete(s.personas, id)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
