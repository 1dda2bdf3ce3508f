package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type storedObject struct {
	data        []byte
	contentType string
}

// MemoryStore is an in-memory ImageStore for tests and development.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]storedObject
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]storedObject)}
}

func (s *MemoryStore) Save(ctx context.Context, fileName, contentType string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("profiles/%s_%s", uuid.New(), fileName)
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[key] = storedObject{data: buf, contentType: contentType}
	return key, nil
}

func (s *MemoryStore) Load(ctx context.Context, key string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, "", ErrNotFound
	}
	return obj.data, obj.contentType, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, key)
	return nil
}
