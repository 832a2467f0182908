// Package memory keeps snapshots in process memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/JakeFAU/hellowork-crawler/internal/snapshot"
)

// BlobStore stores objects in a map and returns memory:// URIs.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]snapshot.Object
}

// NewBlobStore creates an empty store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]snapshot.Object)}
}

// Put stores a copy of obj.
func (s *BlobStore) Put(_ context.Context, obj snapshot.Object) (string, error) {
	if obj.Key == "" {
		return "", fmt.Errorf("key is required")
	}
	obj.Body = append([]byte(nil), obj.Body...)
	obj.Metadata = maps.Clone(obj.Metadata)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.Key] = obj
	return "memory://" + obj.Key, nil
}

// Get returns the object stored under key.
func (s *BlobStore) Get(key string) (snapshot.Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj, ok
}

// Keys lists stored keys in order.
func (s *BlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.objects))
}
