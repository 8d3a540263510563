package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/sessionguard/internal/utils"
)

func setupRedisStore(t *testing.T) (*RedisTokenStore, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	store := NewRedisTokenStore(rdb, "test-rt").WithClock(func() time.Time { return now })
	return store, mr, &now
}

func TestRedisTokenStoreLifecycle(t *testing.T) {
	store, mr, _ := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, 8, "refresh-raw"))

	key := "test-rt:" + utils.HashToken("refresh-raw")
	assert.True(t, mr.Exists(key), "only the hash is used as key")
	assert.False(t, mr.Exists("test-rt:refresh-raw"))
	assert.Equal(t, 7*24*time.Hour, mr.TTL(key))

	ok, err := store.Validate(ctx, "refresh-raw")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Remove(ctx, "refresh-raw"))
	ok, err = store.Validate(ctx, "refresh-raw")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Remove(ctx, "refresh-raw"), "second remove is a no-op")
}

func TestRedisTokenStoreExpiredByClock(t *testing.T) {
	store, mr, now := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, 8, "aging"))
	*now = now.Add(7*24*time.Hour + time.Second)

	ok, err := store.Validate(ctx, "aging")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("test-rt:"+utils.HashToken("aging")), "expired entry is deleted")

	ok, err = store.Validate(ctx, "aging")
	require.NoError(t, err)
	assert.False(t, ok, "no resurrection")
}

func TestRedisTokenStoreExpiredByTTL(t *testing.T) {
	store, mr, _ := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, 8, "ttl"))
	mr.FastForward(7*24*time.Hour + time.Second)

	ok, err := store.Validate(ctx, "ttl")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisTokenStoreRemoveAllForUser(t *testing.T) {
	store, mr, _ := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, 1, "a"))
	require.NoError(t, store.Store(ctx, 1, "b"))
	require.NoError(t, store.Store(ctx, 2, "c"))

	require.NoError(t, store.RemoveAllForUser(ctx, 1))
	for _, tok := range []string{"a", "b"} {
		ok, err := store.Validate(ctx, tok)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	ok, err := store.Validate(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mr.Exists("test-rt:user:1"))
}

func TestRedisTokenStorePersistenceError(t *testing.T) {
	store, mr, _ := setupRedisStore(t)
	mr.Close()

	err := store.Store(context.Background(), 1, "x")
	assert.ErrorIs(t, err, ErrPersistence)
	_, err = store.Validate(context.Background(), "x")
	assert.ErrorIs(t, err, ErrPersistence)
}
