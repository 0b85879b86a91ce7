package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marte-community/dt-engine/internal/config"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := OpenRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	s, _ := setupTestRedis(t)
	testBlobStore(t, s)
}

func TestRedisStoreTTL(t *testing.T) {
	s, mr := setupTestRedis(t)
	s.SetTTL(time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &Blob{Key: "k", Data: []byte("x")}))
	assert.True(t, mr.Exists(DefaultRedisPrefix+"k"))
	assert.Equal(t, time.Minute, mr.TTL(DefaultRedisPrefix+"k"))

	mr.FastForward(2 * time.Minute)
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenRedisErrors(t *testing.T) {
	_, err := OpenRedis(context.Background(), "not a url")
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = OpenRedis(context.Background(), "redis://"+addr)
	assert.Error(t, err)
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, config.CacheConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	mr := miniredis.RunT(t)
	s, err := Open(ctx, config.CacheConfig{Redis: "redis://" + mr.Addr(), SQLite: t.TempDir() + "/x.db"})
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &RedisStore{}, s)

	s2, err := Open(ctx, config.CacheConfig{SQLite: t.TempDir() + "/x.db"})
	require.NoError(t, err)
	defer s2.Close()
	assert.IsType(t, &SQLiteStore{}, s2)
}
