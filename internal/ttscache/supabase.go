package ttscache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	storage_go "github.com/supabase-community/storage-go"
	supabase "github.com/supabase-community/supabase-go"

	"github.com/ent0n29/robocomic/internal/audio"
)

const supabaseCacheTable = "tts_cache"

const supabaseCacheColumns = "cache_key,audio_url,content_hash,size_bytes,created_at"

// SupabaseIndex keeps the cache index in a hosted tts_cache table through
// the REST API.
type SupabaseIndex struct {
	client *supabase.Client
}

func NewSupabaseIndex(client *supabase.Client) *SupabaseIndex {
	return &SupabaseIndex{client: client}
}

func (s *SupabaseIndex) Lookup(ctx context.Context, key string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	data, _, err := s.client.From(supabaseCacheTable).
		Select(supabaseCacheColumns, "", false).
		Eq("cache_key", key).
		Limit(1, "").
		Execute()
	if err != nil {
		return Record{}, false, fmt.Errorf("lookup tts cache: %w", err)
	}
	var rows []Record
	if err := json.Unmarshal(data, &rows); err != nil {
		return Record{}, false, fmt.Errorf("decode tts cache row: %w", err)
	}
	if len(rows) == 0 || rows[0].AudioURL == "" {
		return Record{}, false, nil
	}
	return rows[0], true, nil
}

func (s *SupabaseIndex) Upsert(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if _, _, err := s.client.From(supabaseCacheTable).Upsert(rec, "cache_key", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("upsert tts cache: %w", err)
	}
	return nil
}

func (s *SupabaseIndex) Known(ctx context.Context, keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return out, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, _, err := s.client.From(supabaseCacheTable).
		Select("cache_key", "", false).
		In("cache_key", keys).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("query tts cache keys: %w", err)
	}
	var rows []struct {
		CacheKey string `json:"cache_key"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode tts cache keys: %w", err)
	}
	for _, r := range rows {
		out[r.CacheKey] = true
	}
	return out, nil
}

// SupabaseBlobStore uploads audio into a public storage bucket.
type SupabaseBlobStore struct {
	client *supabase.Client
	bucket string
}

func NewSupabaseBlobStore(client *supabase.Client, bucket string) *SupabaseBlobStore {
	return &SupabaseBlobStore{client: client, bucket: bucket}
}

func (s *SupabaseBlobStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := BlobName(key, data)
	contentType := audio.DetectFormat(data).ContentType
	upsert := true
	_, err := s.client.Storage.UploadFile(s.bucket, name, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return s.client.Storage.GetPublicUrl(s.bucket, name).SignedURL, nil
}
