package store_test

import (
	"context"
	"testing"

	"github.com/illmade-knight/go-annotationcache/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("Default is memory", func(t *testing.T) {
		s, err := store.New(ctx, store.Config{}, zerolog.Nop())
		require.NoError(t, err)
		assert.IsType(t, &store.MemoryStore{}, s)
	})

	t.Run("SQLite", func(t *testing.T) {
		s, err := store.New(ctx, store.Config{
			Backend: store.BackendSQLite,
			SQL:     store.SQLConfig{DSN: ":memory:"},
		}, zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		assert.IsType(t, &store.SQLStore{}, s)
	})

	t.Run("L1 wraps the backend", func(t *testing.T) {
		l1 := store.DefaultL1Config()
		s, err := store.New(ctx, store.Config{Backend: store.BackendMemory, L1: &l1}, zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		assert.IsType(t, &store.L1Store{}, s)
	})

	t.Run("Unknown backend", func(t *testing.T) {
		_, err := store.New(ctx, store.Config{Backend: "cassandra"}, zerolog.Nop())
		require.Error(t, err)
	})

	t.Run("Redis requires an address", func(t *testing.T) {
		_, err := store.New(ctx, store.Config{Backend: store.BackendRedis}, zerolog.Nop())
		require.Error(t, err)
	})
}
