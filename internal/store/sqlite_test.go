package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	testBlobStore(t, openSQLite(t))
}

func TestSQLiteStoreRequiresPath(t *testing.T) {
	_, err := OpenSQLite("  ")
	assert.Error(t, err)
}

func TestSQLiteStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, &Blob{Key: "k", Generation: "g", Data: []byte{1, 2}}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	b, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, b.Data)
}

// testBlobStore runs the behavior shared by every backend.
func testBlobStore(t *testing.T, s BlobStore) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	at := time.UnixMilli(1700000000123).UTC()
	data := []byte("DTB1\x01\x00\xff\x00binary")
	require.NoError(t, s.Put(ctx, &Blob{Key: "abc", Generation: "gen-1", Data: data, UpdatedAt: at}))

	b, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", b.Key)
	assert.Equal(t, "gen-1", b.Generation)
	assert.Equal(t, data, b.Data)
	assert.True(t, at.Equal(b.UpdatedAt))

	require.NoError(t, s.Put(ctx, &Blob{Key: "abc", Generation: "gen-2", Data: []byte("new")}))
	b, err = s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "gen-2", b.Generation)
	assert.Equal(t, []byte("new"), b.Data)
	assert.False(t, b.UpdatedAt.IsZero())

	require.NoError(t, s.Delete(ctx, "abc"))
	_, err = s.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, "abc"))
}
