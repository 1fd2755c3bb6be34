package ttscache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ent0n29/robocomic/internal/reliability"
)

// RemoteConfig tunes metadata registration retries.
type RemoteConfig struct {
	MetadataAttempts int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
}

// Remote is the cache shared across views and users: a blob store for the
// bytes and an index mapping keys to durable URLs. Reads fail open.
type Remote struct {
	index  Index
	blobs  BlobStore
	cfg    RemoteConfig
	logger *slog.Logger
}

func NewRemote(index Index, blobs BlobStore, cfg RemoteConfig, logger *slog.Logger) *Remote {
	if cfg.MetadataAttempts <= 0 {
		cfg.MetadataAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 200 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{index: index, blobs: blobs, cfg: cfg, logger: logger}
}

// Lookup returns the durable URL for key. Any index failure is logged and
// reported as a miss.
func (r *Remote) Lookup(ctx context.Context, key string) (string, bool) {
	rec, ok, err := r.index.Lookup(ctx, key)
	if err != nil {
		r.logger.WarnContext(ctx, "tts cache lookup failed; treating as miss", "cache_key", key, "error", err)
		return "", false
	}
	if !ok || rec.AudioURL == "" {
		return "", false
	}
	return rec.AudioURL, true
}

// Store uploads audio under key and returns its durable URL. Repeated
// stores of the same key overwrite and resolve to the same URL.
func (r *Remote) Store(ctx context.Context, key string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("store audio: empty payload")
	}
	url, err := r.blobs.Put(ctx, key, data)
	if err != nil {
		return "", fmt.Errorf("store audio: %w", err)
	}
	return url, nil
}

// RecordMetadata registers key→url in the index, retrying independently of
// the upload that produced url.
func (r *Remote) RecordMetadata(ctx context.Context, key, url string, data []byte) error {
	rec := Record{
		CacheKey:    key,
		AudioURL:    url,
		ContentHash: ContentHash(data),
		SizeBytes:   len(data),
		CreatedAt:   time.Now().UTC(),
	}
	err := reliability.Retry(ctx, r.cfg.MetadataAttempts, r.cfg.BackoffBase, r.cfg.BackoffCap, func(ctx context.Context) error {
		return r.index.Upsert(ctx, rec)
	})
	if err != nil {
		return fmt.Errorf("record tts metadata: %w", err)
	}
	return nil
}

// Known returns the subset of keys present in the index. Failures yield an
// empty result.
func (r *Remote) Known(ctx context.Context, keys []string) map[string]bool {
	known, err := r.index.Known(ctx, keys)
	if err != nil {
		r.logger.WarnContext(ctx, "tts cache batch lookup failed", "keys", len(keys), "error", err)
		return map[string]bool{}
	}
	return known
}
