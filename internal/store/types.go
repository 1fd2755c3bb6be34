package store

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/robocomic/internal/transcript"
)

// ErrNotFound is returned when a show or persona does not exist for the user.
var ErrNotFound = errors.New("record not found")

// ShowParams are the generation parameters saved alongside a show so it can
// be re-run from the history sidebar.
type ShowParams struct {
	Comedian1Style string   `json:"comedian1_style" bson:"comedian1_style"`
	Comedian2Style string   `json:"comedian2_style" bson:"comedian2_style"`
	Lang           string   `json:"lang" bson:"lang"`
	Mode           string   `json:"mode" bson:"mode"`
	Topic          string   `json:"topic" bson:"topic"`
	NumRounds      int      `json:"num_rounds" bson:"num_rounds"`
	BuildContext   bool     `json:"build_context" bson:"build_context"`
	Temperature    *float64 `json:"temperature,omitempty" bson:"temperature,omitempty"`
}

// ShowData is the serialized body of a saved show.
type ShowData struct {
	History []transcript.Line `json:"history" bson:"history"`
	Params  ShowParams        `json:"params" bson:"params"`
}

// Show is a generated duel saved for a user.
type Show struct {
	ID        string    `json:"id" bson:"_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	Title     string    `json:"title" bson:"title"`
	Data      ShowData  `json:"data" bson:"data"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// ShowSummary is the sidebar projection of a show.
type ShowSummary struct {
	ID        string    `json:"id" bson:"_id"`
	Title     string    `json:"title" bson:"title"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Persona is a user-defined comedian.
type Persona struct {
	ID            string    `json:"id" bson:"_id"`
	UserID        string    `json:"user_id" bson:"user_id"`
	Name          string    `json:"name" bson:"name"`
	Description   string    `json:"description" bson:"description"`
	DescriptionPL string    `json:"description_pl" bson:"description_pl"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
}

// Store persists per-user shows and personas.
type Store interface {
	SaveShow(ctx context.Context, show Show) (Show, error)
	ListShows(ctx context.Context, userID string) ([]ShowSummary, error)
	GetShow(ctx context.Context, userID, id string) (Show, error)
	DeleteShow(ctx context.Context, userID, id string) error

	SavePersona(ctx context.Context, persona Persona) (Persona, error)
	ListPersonas(ctx context.Context, userID string) ([]Persona, error)
	DeletePersona(ctx context.Context, userID, id string) error

	Close() error
}

func prepareShow(show Show) Show {
	if show.ID == "" {
		show.ID = newID()
	}
	if show.CreatedAt.IsZero() {
		show.CreatedAt = time.Now().UTC()
	}
	if show.Data.History == nil {
		show.Data.History = []transcript.Line{}
	}
	return show
}

func preparePersona(p Persona) Persona {
	if p.ID == "" {
		p.ID = newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return p
}
