package storage

import (
	"context"
	"testing"

	"azbuka/internal/config"
	"azbuka/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	store := NewRedisFromClient(client)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		err := store.Set(ctx, "cache.v1.profile.me", []byte(`{"name":"anna"}`))
		require.NoError(t, err)

		got, err := store.Get(ctx, "cache.v1.profile.me")
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"name":"anna"}`), got)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "tmp", []byte("x")))
		require.NoError(t, store.Delete(ctx, "tmp"))

		_, err := store.Get(ctx, "tmp")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("KeysByPrefix", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "cache.v1.a.1", []byte("x")))
		require.NoError(t, store.Set(ctx, "cache.v1.a.2", []byte("y")))
		require.NoError(t, store.Set(ctx, "sync.v1.queue", []byte("z")))

		keys, err := store.Keys(ctx, "cache.v1.a.")
		require.NoError(t, err)
		assert.Len(t, keys, 2)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}

func TestRedisStoreUnavailable(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	addr := s.Addr()
	s.Close()

	_, err = NewRedis(context.Background(), config.RedisConfig{Address: addr})
	assert.Error(t, err)
}
