// Package store provides the persistent document stores backing the
// fetch-through cache. Documents are keyed by their "_id" field within a named
// collection, and every implementation treats an upsert of an existing id as
// an overwrite.
package store

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-annotationcache/pkg/types"
)

// DocumentStore is the contract the fetch-through cache persists through.
type DocumentStore interface {
	// FindByIDs returns the stored documents for ids. Missing ids are absent
	// from the result; order is not significant.
	FindByIDs(ctx context.Context, collection string, ids []string) ([]types.Document, error)
	// UpsertMany writes docs keyed by "_id", replacing any existing record.
	UpsertMany(ctx context.Context, collection string, docs []types.Document) error
	// Close releases the resources held by the store.
	Close() error
}

// Pinger is implemented by stores that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

func requireIDs(docs []types.Document) error {
	for i, doc := range docs {
		if doc.ID() == "" {
			return fmt.Errorf("document %d has no %s", i, types.IDField)
		}
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
