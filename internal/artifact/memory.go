package artifact

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory RefStore, used in tests and for dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	refs    map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		refs:    make(map[string]string),
	}
}

func (s *MemoryStore) Put(_ context.Context, data []byte) (string, error) {
	digest := Digest(data)
	copied := make([]byte, len(data))
	copy(copied, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[digest]; !exists {
		s.objects[digest] = copied
	}
	return digest, nil
}

func (s *MemoryStore) Get(_ context.Context, digest string) ([]byte, error) {
	if _, err := parseDigest(digest); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[digest]
	if !ok {
		return nil, ErrNotFound
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	return copied, nil
}

func (s *MemoryStore) Tag(_ context.Context, name, digest string) error {
	if _, err := parseDigest(digest); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[name] = digest
	return nil
}

func (s *MemoryStore) Resolve(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	digest, ok := s.refs[name]
	if !ok {
		return "", ErrNotFound
	}
	return digest, nil
}
