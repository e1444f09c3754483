package store

import (
	"context"
	"sync"

	"github.com/illmade-knight/go-annotationcache/pkg/types"
)

// MemoryStore is a thread-safe, in-process DocumentStore. Documents are cloned
// on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]types.Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]types.Document),
	}
}

// FindByIDs retrieves the stored documents for ids.
func (s *MemoryStore) FindByIDs(_ context.Context, collection string, ids []string) ([]types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.collections[collection]
	out := make([]types.Document, 0, len(ids))
	for _, id := range dedupe(ids) {
		if doc, ok := docs[id]; ok {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

// UpsertMany writes docs, overwriting existing ids.
func (s *MemoryStore) UpsertMany(_ context.Context, collection string, docs []types.Document) error {
	if err := requireIDs(docs); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		c = make(map[string]types.Document)
		s.collections[collection] = c
	}
	for _, doc := range docs {
		c[doc.ID()] = doc.Clone()
	}
	return nil
}

// Len reports the number of documents held in a collection.
func (s *MemoryStore) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

func (s *MemoryStore) Close() error { return nil }
