package ttscache

import (
	"context"
	"sync"
	"time"
)

// Record is one row of the shared audio cache index.
type Record struct {
	CacheKey    string    `json:"cache_key" bson:"_id"`
	AudioURL    string    `json:"audio_url" bson:"audio_url"`
	ContentHash string    `json:"content_hash,omitempty" bson:"content_hash"`
	SizeBytes   int       `json:"size_bytes,omitempty" bson:"size_bytes"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// Index maps cache keys to durable audio URLs. Upsert is keyed by CacheKey.
type Index interface {
	Lookup(ctx context.Context, key string) (Record, bool, error)
	Upsert(ctx context.Context, rec Record) error
	Known(ctx context.Context, keys []string) (map[string]bool, error)
}

// MemoryIndex is an in-process Index for local/dev use.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[string]Record)}
}

func (m *MemoryIndex) Lookup(_ context.Context, key string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	return rec, ok, nil
}

func (m *MemoryIndex) Upsert(_ context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.records[rec.CacheKey]; ok {
		rec.CreatedAt = prev.CreatedAt
	}
	m.records[rec.CacheKey] = rec
	return nil
}

func (m *MemoryIndex) Known(_ context.Context, keys []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, ok := m.records[k]; ok {
			out[k] = true
		}
	}
	return out, nil
}
