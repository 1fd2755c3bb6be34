package ttscache

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"

	"github.com/ent0n29/robocomic/internal/audio"
)

// ErrBlobNotFound is returned when a blob name is unknown.
var ErrBlobNotFound = errors.New("audio blob not found")

// BlobStore keeps audio bytes addressed by cache key. Put is idempotent:
// the same key always resolves to the same URL.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// Blob is an audio object held by MemoryBlobStore.
type Blob struct {
	Data        []byte
	ContentType string
	ContentHash string
}

// MemoryBlobStore holds audio in process and serves it under baseURL.
// It doubles as the fallback when remote object storage is unreachable.
type MemoryBlobStore struct {
	baseURL string

	mu    sync.RWMutex
	blobs map[string]Blob
}

// NewMemoryBlobStore returns a store whose URLs look like
// baseURL/<key><ext>, e.g. http://localhost:8080/v1/audio/<key>.mp3.
func NewMemoryBlobStore(baseURL string) *MemoryBlobStore {
	return &MemoryBlobStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		blobs:   make(map[string]Blob),
	}
}

// BlobName is the object name used for a key in every blob store.
func BlobName(key string, data []byte) string {
	return key + audio.DetectFormat(data).Ext
}

func (m *MemoryBlobStore) Put(_ context.Context, key string, data []byte) (string, error) {
	name := BlobName(key, data)
	blob := Blob{
		Data:        append([]byte(nil), data...),
		ContentType: audio.DetectFormat(data).ContentType,
		ContentHash: ContentHash(data),
	}
	m.mu.Lock()
	m.blobs[name] = blob
	m.mu.Unlock()
	return m.baseURL + "/" + name, nil
}

// Get returns the blob stored under name (key plus extension).
func (m *MemoryBlobStore) Get(name string) (Blob, error) {
	name = path.Base(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[name]
	if !ok {
		return Blob{}, ErrBlobNotFound
	}
	return blob, nil
}

func (m *MemoryBlobStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
