package ttscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresIndex stores the cache index in a tts_cache table.
type PostgresIndex struct {
	pool *pgxpool.Pool
}

// NewPostgresIndex creates the table if needed. The pool is shared with the
// show store and is not closed by the index.
func NewPostgresIndex(ctx context.Context, pool *pgxpool.Pool) (*PostgresIndex, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tts_cache (
			cache_key TEXT PRIMARY KEY,
			audio_url TEXT NOT NULL,
			content_hash TEXT NOT NULL DEFAULT '',
			size_bytes INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("init tts cache schema failed on %q: %w", stmt, err)
		}
	}
	return &PostgresIndex{pool: pool}, nil
}

func (p *PostgresIndex) Lookup(ctx context.Context, key string) (Record, bool, error) {
	var rec Record
	err := p.pool.QueryRow(ctx,
		`SELECT cache_key, audio_url, content_hash, size_bytes, created_at FROM tts_cache WHERE cache_key=$1`,
		key,
	).Scan(&rec.CacheKey, &rec.AudioURL, &rec.ContentHash, &rec.SizeBytes, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("lookup tts cache: %w", err)
	}
	return rec, true, nil
}

func (p *PostgresIndex) Upsert(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO tts_cache (cache_key, audio_url, content_hash, size_bytes, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (cache_key) DO UPDATE SET audio_url = EXCLUDED.audio_url,
		   content_hash = EXCLUDED.content_hash, size_bytes = EXCLUDED.size_bytes`,
		rec.CacheKey, rec.AudioURL, rec.ContentHash, rec.SizeBytes, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert tts cache: %w", err)
	}
	return nil
}

func (p *PostgresIndex) Known(ctx context.Context, keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := p.pool.Query(ctx, `SELECT cache_key FROM tts_cache WHERE cache_key = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("query tts cache keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan tts cache key: %w", err)
		}
		out[k] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tts cache keys: %w", err)
	}
	return out, nil
}
