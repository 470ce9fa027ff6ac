package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"azbuka/internal/models"
	"azbuka/internal/storage"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	logger := zerolog.New(os.Stdout)
	return New(store, &logger), store
}

func TestCacheSetAndGet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	err := c.Set(ctx, "lessons", "lesson-42", []byte(`{"title":"Verbs"}`), time.Hour)
	require.NoError(t, err)

	value, ok, err := c.Get(ctx, "lessons", "lesson-42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"title":"Verbs"}`), value)
}

func TestCacheMiss(t *testing.T) {
	c, _ := newTestCache(t)

	value, ok, err := c.Get(context.Background(), "lessons", "absent")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, value)
}

func TestCacheExpiry(t *testing.T) {
	c, store := newTestCache(t)
	ctx := context.Background()

	base := time.Now()
	c.now = func() time.Time { return base }

	require.NoError(t, c.Set(ctx, "lessons", "lesson-1", []byte("cached"), 5*time.Minute))

	// still fresh just inside the window
	c.now = func() time.Time { return base.Add(5 * time.Minute) }
	_, ok, err := c.Get(ctx, "lessons", "lesson-1")
	require.NoError(t, err)
	assert.True(t, ok, "entry at exactly ttl must still be valid")

	// one minute past the window it is gone
	c.now = func() time.Time { return base.Add(6 * time.Minute) }
	value, ok, err := c.Get(ctx, "lessons", "lesson-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, value)

	// and the lazy delete actually removed it from the store
	keys, err := store.Keys(ctx, models.CacheKeyPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCacheSetValidation(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.Set(ctx, "lessons", "k", []byte("x"), 0), ErrInvalidTTL)
	assert.ErrorIs(t, c.Set(ctx, "lessons", "k", []byte("x"), -time.Second), ErrInvalidTTL)
	assert.ErrorIs(t, c.Set(ctx, "", "k", []byte("x"), time.Hour), ErrInvalidNamespace)
	assert.ErrorIs(t, c.Set(ctx, "bad.ns", "k", []byte("x"), time.Hour), ErrInvalidNamespace)
	assert.ErrorIs(t, c.Set(ctx, "lessons", "", []byte("x"), time.Hour), ErrInvalidKey)
}

func TestCacheCorruptEntry(t *testing.T) {
	c, store := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "lessons", "good", []byte("fine"), time.Hour))
	require.NoError(t, store.Set(ctx, models.CacheKey("lessons", "bad"), []byte("{not json")))

	// corrupt entry reads as a miss and is dropped
	value, ok, err := c.Get(ctx, "lessons", "bad")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, value)

	_, err = store.Get(ctx, models.CacheKey("lessons", "bad"))
	assert.Error(t, err, "corrupt entry should have been deleted")

	// the good entry is untouched
	value, ok, err = c.Get(ctx, "lessons", "good")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("fine"), value)
}

func TestCacheInvalidate(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "lessons", "a", []byte("1"), time.Hour))
	require.NoError(t, c.Set(ctx, "lessons", "b", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "profile", "me", []byte("3"), time.Hour))

	removed, err := c.Invalidate(ctx, "lessons")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, ok, _ := c.Get(ctx, "lessons", "a")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "profile", "me")
	assert.True(t, ok)

	_, err = c.Invalidate(ctx, "no.dots")
	assert.ErrorIs(t, err, ErrInvalidNamespace)
}

func TestCacheInvalidateAll(t *testing.T) {
	c, store := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "lessons", "a", []byte("1"), time.Hour))
	require.NoError(t, c.Set(ctx, "profile", "me", []byte("2"), time.Hour))
	require.NoError(t, store.Set(ctx, models.QueueKey, []byte(`{"items":[]}`)))

	removed, err := c.InvalidateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Entries)

	// only cache keys go; the queue document is untouched
	_, err = store.Get(ctx, models.QueueKey)
	assert.NoError(t, err)
}

func TestCacheStats(t *testing.T) {
	c, store := newTestCache(t)
	ctx := context.Background()

	base := time.Now()
	c.now = func() time.Time { return base }
	require.NoError(t, c.Set(ctx, "lessons", "live1", []byte("abcd"), time.Hour))

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	require.NoError(t, c.Set(ctx, "lessons", "live2", []byte("ab"), time.Hour))

	c.now = func() time.Time { return base.Add(3 * time.Minute) }
	require.NoError(t, c.Set(ctx, "lessons", "old", []byte("x"), time.Minute))

	c.now = func() time.Time { return base.Add(10 * time.Minute) }

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, int64(6), stats.Bytes)
	require.NotNil(t, stats.Oldest)
	require.NotNil(t, stats.Newest)
	assert.True(t, stats.Oldest.Equal(base), "oldest must be the first live entry")
	assert.True(t, stats.Newest.Equal(base.Add(2*time.Minute)), "newest must skip the expired entry")

	// Stats must not delete the expired entry
	keys, err := store.Keys(ctx, models.CacheKeyPrefix)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestCacheSweep(t *testing.T) {
	c, store := newTestCache(t)
	ctx := context.Background()

	base := time.Now()
	c.now = func() time.Time { return base }

	require.NoError(t, c.Set(ctx, "lessons", "live", []byte("keep"), time.Hour))
	require.NoError(t, c.Set(ctx, "lessons", "old", []byte("drop"), time.Minute))
	require.NoError(t, store.Set(ctx, models.CacheKey("lessons", "bad"), []byte("junk")))

	c.now = func() time.Time { return base.Add(10 * time.Minute) }

	removed, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	keys, err := store.Keys(ctx, models.CacheKeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{models.CacheKey("lessons", "live")}, keys)
}

type failingStore struct {
	*storage.Memory
	err error
}

func (f *failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, f.err
}

func (f *failingStore) Set(ctx context.Context, key string, value []byte) error {
	return f.err
}

func TestCacheStorageErrors(t *testing.T) {
	logger := zerolog.New(os.Stdout)
	boom := errors.New("disk full")
	c := New(&failingStore{Memory: storage.NewMemory(), err: boom}, &logger)
	ctx := context.Background()

	_, _, err := c.Get(ctx, "lessons", "k")
	assert.ErrorIs(t, err, boom)

	err = c.Set(ctx, "lessons", "k", []byte("x"), time.Hour)
	assert.ErrorIs(t, err, boom)
}
