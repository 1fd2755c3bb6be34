package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists shows and personas in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS shows (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_shows_user_created ON shows (user_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS personas (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			description_pl TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_personas_user ON personas (user_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// Pool exposes the connection pool so the audio cache index can share it.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PostgresStore) SaveShow(ctx context.Context, show Show) (Show, error) {
	show = prepareShow(show)
	data, err := json.Marshal(show.Data)
	if err != nil {
		return Show{}, fmt.Errorf("encode show data: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO shows (id, user_id, title, data, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, data = EXCLUDED.data`,
		show.ID, show.UserID, show.Title, data, show.CreatedAt,
	)
	if err != nil {
		return Show{}, fmt.Errorf("save show: %w", err)
	}
	return show, nil
}

func (s *PostgresStore) ListShows(ctx context.Context, userID string) ([]ShowSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, created_at FROM shows WHERE user_id=$1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query shows: %w", err)
	}
	defer rows.Close()

	out := make([]ShowSummary, 0)
	for rows.Next() {
		var sum ShowSummary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan show row: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate show rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetShow(ctx context.Context, userID, id string) (Show, error) {
	var (
		show Show
		data []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, data, created_at FROM shows WHERE id=$1 AND user_id=$2`,
		id, userID,
	).Scan(&show.ID, &show.UserID, &show.Title, &data, &show.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Show{}, ErrNotFound
	}
	if err != nil {
		return Show{}, fmt.Errorf("get show: %w", err)
	}
	if err := json.Unmarshal(data, &show.Data); err != nil {
		return Show{}, fmt.Errorf("decode show data: %w", err)
	}
	return show, nil
}

func (s *PostgresStore) DeleteShow(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM shows WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete show: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SavePersona(ctx context.Context, p Persona) (Persona, error) {
	p = preparePersona(p)
	err := s.pool.QueryRow(ctx,
		`INSERT INTO personas (id, user_id, name, description, description_pl, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name,
		   description = EXCLUDED.description, description_pl = EXCLUDED.description_pl
		 WHERE personas.user_id = EXCLUDED.user_id
		 RETURNING created_at`,
		p.ID, p.UserID, p.Name, p.Description, p.DescriptionPL, p.CreatedAt,
	).Scan(&p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Persona{}, ErrNotFound
	}
	if err != nil {
		return Persona{}, fmt.Errorf("save persona: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPersonas(ctx context.Context, userID string) ([]Persona, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, description, description_pl, created_at
		 FROM personas WHERE user_id=$1 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query personas: %w", err)
	}
	defer rows.Close()

	out := make([]Persona, 0)
	for rows.Next() {
		var p Persona
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.DescriptionPL, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan persona row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persona rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeletePersona(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM personas WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete persona: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
