package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marte-community/dt-engine/internal/dt"
	"github.com/marte-community/dt-engine/internal/value"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadUsesCache(t *testing.T) {
	ctx := context.Background()
	content := t.TempDir()
	mod := t.TempDir()
	writeFile(t, filepath.Join(content, "units.def"), "unit Soldier { hp = 10 }\nArcher : Soldier { range = 4 }\n")
	writeFile(t, filepath.Join(mod, "units.def"), "Archer { range = 6 }\n")
	s := openSQLite(t)

	first := dt.New()
	hit, err := Load(ctx, s, first, content, []string{mod})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int64(6), first.Find("Archer.range").Value(nil).Int(0))

	second := dt.New()
	hit, err = Load(ctx, s, second, content, []string{mod})
	require.NoError(t, err)
	assert.True(t, hit)
	archer := second.Find("Archer")
	require.NotNil(t, archer)
	assert.Equal(t, "unit", archer.Type())
	assert.Equal(t, int64(10), archer.GetInt("hp", nil, 0))
	assert.Equal(t, int64(6), archer.GetInt("range", nil, 0))

	// Changing a source or a global changes the key.
	third := dt.New()
	third.SetGlobal("lang", value.FromString("fr"))
	hit, err = Load(ctx, s, third, content, []string{mod})
	require.NoError(t, err)
	assert.False(t, hit)

	writeFile(t, filepath.Join(content, "units.def"), "unit Soldier { hp = 12 }\n")
	fourth := dt.New()
	hit, err = Load(ctx, s, fourth, content, []string{mod})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int64(12), fourth.Find("Soldier.hp").Value(nil).Int(0))
}

func TestLoadSkipsCachingBrokenContent(t *testing.T) {
	ctx := context.Background()
	content := t.TempDir()
	writeFile(t, filepath.Join(content, "bad.def"), "A : Missing { }\n")
	s := openSQLite(t)

	d := dt.New()
	_, err := Load(ctx, s, d, content, nil)
	require.NoError(t, err)
	assert.True(t, d.HasErrors())

	key, err := Key(dt.New(), content)
	require.NoError(t, err)
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadWithoutStore(t *testing.T) {
	content := t.TempDir()
	writeFile(t, filepath.Join(content, "a.def"), "A { x = 1 }\n")

	d := dt.New()
	hit, err := Load(context.Background(), nil, d, content, nil)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int64(1), d.Find("A.x").Value(nil).Int(0))
}

func TestLoadDiscardsCorruptBlob(t *testing.T) {
	ctx := context.Background()
	content := t.TempDir()
	writeFile(t, filepath.Join(content, "a.def"), "A { x = 1 }\n")
	s := openSQLite(t)

	d := dt.New()
	key, err := Key(d, content)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, &Blob{Key: key, Data: []byte("garbage")}))

	hit, err := Load(ctx, s, d, content, nil)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int64(1), d.Find("A.x").Value(nil).Int(0))

	b, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "DTB1", string(b.Data[:4]))
}
