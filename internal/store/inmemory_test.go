package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ent0n29/robocomic/internal/transcript"
)

func TestInMemoryShowsAreScopedPerUserAndNewestFirst(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older, err := s.SaveShow(ctx, Show{UserID: "u1", Title: "older", CreatedAt: base})
	if err != nil {
		t.Fatalf("SaveShow() error = %v", err)
	}
	newer, _ := s.SaveShow(ctx, Show{UserID: "u1", Title: "newer", CreatedAt: base.Add(time.Hour)})
	_, _ = s.SaveShow(ctx, Show{UserID: "u2", Title: "other"})

	list, err := s.ListShows(ctx, "u1")
	if err != nil {
		t.Fatalf("ListShows() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID || list[1].ID != older.ID {
		t.Fatalf("ListShows() = %+v, want newer then older", list)
	}
	if _, err := s.GetShow(ctx, "u2", older.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetShow(other user) error = %v, want ErrNotFound", err)
	}
}

func TestInMemoryShowRoundTripKeepsHistory(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	saved, _ := s.SaveShow(ctx, Show{
		UserID: "u1",
		Data: ShowData{
			History: []transcript.Line{{Role: "chat_manager", Content: "hi"}, {Role: "janusz", Content: "joke"}},
			Params:  ShowParams{Lang: "pl", NumRounds: 1},
		},
	})
	got, err := s.GetShow(ctx, "u1", saved.ID)
	if err != nil {
		t.Fatalf("GetShow() error = %v", err)
	}
	if len(got.Data.History) != 2 || got.Data.Params.Lang != "pl" {
		t.Fatalf("GetShow() data = %+v, want saved data", got.Data)
	}
	if err := s.DeleteShow(ctx, "u1", saved.ID); err != nil {
		t.Fatalf("DeleteShow() error = %v", err)
	}
	if err := s.DeleteShow(ctx, "u1", saved.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteShow(again) error = %v, want ErrNotFound", err)
	}
}

func TestInMemoryPersonaUpdateRequiresOwner(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	p, err := s.SavePersona(ctx, Persona{UserID: "u1", Name: "pirate", Description: "arr"})
	if err != nil {
		t.Fatalf("SavePersona() error = %v", err)
	}
	p.Description = "yo ho"
	updated, err := s.SavePersona(ctx, p)
	if err != nil {
		t.Fatalf("SavePersona(update) error = %v", err)
	}
	if !updated.CreatedAt.Equal(p.CreatedAt) {
		t.Fatalf("CreatedAt changed on update: %v vs %v", updated.CreatedAt, p.CreatedAt)
	}
	if _, err := s.SavePersona(ctx, Persona{ID: p.ID, UserID: "u2", Name: "thief"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SavePersona(other user) error = %v, want ErrNotFound", err)
	}
	list, _ := s.ListPersonas(ctx, "u1")
	if len(list) != 1 || list[0].Description != "yo ho" {
		t.Fatalf("ListPersonas() = %+v, want updated persona", list)
	}
}

func TestNewStoreDefaultsToMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "  ", "robocomic")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore(\"\") = %T, want *InMemoryStore", s)
	}
}
