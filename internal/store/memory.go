package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store, useful for tests and ephemeral
// deployments. Contents are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*Object
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*Object)}
}

// Kind implements Store.
func (s *MemoryStore) Kind() string { return BackendMemory }

// Save stores a copy of data.
func (s *MemoryStore) Save(_ context.Context, name string, data []byte, contentType string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if contentType == "" {
		contentType = ContentTypeFor(name)
	}
	obj := &Object{Name: name, ContentType: contentType, Data: cloneBytes(data)}

	s.mu.Lock()
	s.objects[name] = obj
	s.mu.Unlock()
	return nil
}

// Load returns a copy of the stored artifact.
func (s *MemoryStore) Load(_ context.Context, name string) (*Object, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	obj, ok := s.objects[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return &Object{Name: obj.Name, ContentType: obj.ContentType, Data: cloneBytes(obj.Data)}, nil
}

// Len reports the number of stored artifacts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
