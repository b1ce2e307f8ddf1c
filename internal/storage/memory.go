package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryStore is an in-process BlobStore. It backs local development and
// tests; objects live for the process lifetime only.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[string][]byte)}
}

func (m *MemoryStore) Upload(_ context.Context, bucket, path string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[bucket]
	if !ok {
		b = make(map[string][]byte)
		m.buckets[bucket] = b
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b[path] = cp
	return m.PublicURL(bucket, path), nil
}

func (m *MemoryStore) Download(_ context.Context, bucket, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.buckets[bucket][path]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, path)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *MemoryStore) Delete(_ context.Context, bucket, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets[bucket], path)
	return nil
}

func (m *MemoryStore) PublicURL(bucket, path string) string {
	return "memory://" + bucket + "/" + path
}

func (m *MemoryStore) ParsePublicURL(rawURL string) (string, string, error) {
	rest, ok := strings.CutPrefix(rawURL, "memory://")
	if !ok {
		return "", "", fmt.Errorf("not a memory store URL: %q", rawURL)
	}
	bucket, path, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || path == "" {
		return "", "", fmt.Errorf("malformed memory store URL: %q", rawURL)
	}
	return bucket, path, nil
}
