package store_test

import (
	"context"
	"testing"

	"github.com/illmade-knight/go-annotationcache/pkg/store"
	"github.com/illmade-knight/go-annotationcache/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	s := store.NewMemoryStore()
	runStoreContract(t, s, "vep.annotation")
}

func TestMemoryStore_DoesNotAliasCallerDocuments(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	doc := types.Document{types.IDField: "rs1", "nested": map[string]any{"k": "v"}}
	require.NoError(t, s.UpsertMany(ctx, "c", []types.Document{doc}))
	doc["nested"].(map[string]any)["k"] = "changed"

	docs, err := s.FindByIDs(ctx, "c", []string{"rs1"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "v", docs[0]["nested"].(map[string]any)["k"])

	docs[0]["nested"].(map[string]any)["k"] = "mutated"
	again, err := s.FindByIDs(ctx, "c", []string{"rs1"})
	require.NoError(t, err)
	assert.Equal(t, "v", again[0]["nested"].(map[string]any)["k"])
	assert.Equal(t, 1, s.Len("c"))
}
