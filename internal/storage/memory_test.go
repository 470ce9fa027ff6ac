package storage

import (
	"context"
	"testing"

	"azbuka/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		err := store.Set(ctx, "cache.v1.lessons.a", []byte("one"))
		require.NoError(t, err)

		got, err := store.Get(ctx, "cache.v1.lessons.a")
		require.NoError(t, err)
		assert.Equal(t, []byte("one"), got)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "key", []byte("v1")))
		require.NoError(t, store.Set(ctx, "key", []byte("v2")))

		got, err := store.Get(ctx, "key")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "gone", []byte("x")))
		require.NoError(t, store.Delete(ctx, "gone"))

		_, err := store.Get(ctx, "gone")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		// deleting an absent key is not an error
		assert.NoError(t, store.Delete(ctx, "gone"))
	})

	t.Run("KeysByPrefix", func(t *testing.T) {
		fresh := NewMemory()
		require.NoError(t, fresh.Set(ctx, "cache.v1.a.1", []byte("x")))
		require.NoError(t, fresh.Set(ctx, "cache.v1.b.2", []byte("y")))
		require.NoError(t, fresh.Set(ctx, "sync.v1.queue", []byte("z")))

		keys, err := fresh.Keys(ctx, "cache.v1.")
		require.NoError(t, err)
		assert.Len(t, keys, 2)

		keys, err = fresh.Keys(ctx, "sync.v1.")
		require.NoError(t, err)
		assert.Len(t, keys, 1)
	})

	t.Run("ValueIsolation", func(t *testing.T) {
		original := []byte("immutable")
		require.NoError(t, store.Set(ctx, "iso", original))
		original[0] = 'X'

		got, err := store.Get(ctx, "iso")
		require.NoError(t, err)
		assert.Equal(t, []byte("immutable"), got)

		got[0] = 'Y'
		again, err := store.Get(ctx, "iso")
		require.NoError(t, err)
		assert.Equal(t, []byte("immutable"), again)
	})

	t.Run("PingAndClose", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
		assert.NoError(t, store.Close())
	})
}
