package store_test

import (
	"context"
	"sort"
	"testing"

	"github.com/illmade-knight/go-annotationcache/pkg/store"
	"github.com/illmade-knight/go-annotationcache/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behaviour every DocumentStore must share.
func runStoreContract(t *testing.T, s store.DocumentStore, collection string) {
	t.Helper()
	ctx := context.Background()

	t.Run("Missing ids are absent", func(t *testing.T) {
		docs, err := s.FindByIDs(ctx, collection, []string{"rs-nothing"})
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("Upsert then find", func(t *testing.T) {
		err := s.UpsertMany(ctx, collection, []types.Document{
			{types.IDField: "rs123", "input": "rs123", "most_severe_consequence": "missense_variant"},
			{types.IDField: "rs456", "input": "rs456", "most_severe_consequence": "synonymous_variant"},
		})
		require.NoError(t, err)

		docs, err := s.FindByIDs(ctx, collection, []string{"rs456", "rs123", "rs789", "rs123"})
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, []string{"rs123", "rs456"}, sortedIDs(docs))
	})

	t.Run("Junk ids are absent", func(t *testing.T) {
		docs, err := s.FindByIDs(ctx, collection, []string{"rs123", "bad\xff", "rs1/rs2", "", ".."})
		require.NoError(t, err)
		assert.Equal(t, []string{"rs123"}, sortedIDs(docs))
	})

	t.Run("Upsert overwrites", func(t *testing.T) {
		doc := types.Document{types.IDField: "rs999", "input": "rs999", "most_severe_consequence": "stop_gained"}
		require.NoError(t, s.UpsertMany(ctx, collection, []types.Document{doc}))
		doc["most_severe_consequence"] = "frameshift_variant"
		require.NoError(t, s.UpsertMany(ctx, collection, []types.Document{doc}))
		require.NoError(t, s.UpsertMany(ctx, collection, []types.Document{doc}))

		docs, err := s.FindByIDs(ctx, collection, []string{"rs999"})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "frameshift_variant", docs[0].String("most_severe_consequence"))
	})

	t.Run("Collections are isolated", func(t *testing.T) {
		docs, err := s.FindByIDs(ctx, collection+".other", []string{"rs123"})
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("Document without id is rejected", func(t *testing.T) {
		err := s.UpsertMany(ctx, collection, []types.Document{{"input": "rs1"}})
		require.Error(t, err)
	})
}

func sortedIDs(docs []types.Document) []string {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID())
	}
	sort.Strings(ids)
	return ids
}
