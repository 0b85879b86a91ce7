package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dt.toml")
	content := `
content_dir = "defs"
mods = ["mods/a", "mods/b"]
seed = 42

[globals]
difficulty = "3"

[log]
level = "debug"

[cache]
sqlite = "cache.db"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("DT_CACHE_REDIS", "localhost:6379")
	t.Setenv("DT_LOG_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "defs", cfg.ContentDir)
	assert.Equal(t, []string{"mods/a", "mods/b"}, cfg.Mods)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, "3", cfg.Globals["difficulty"])
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "cache.db", cfg.Cache.SQLite)
	assert.Equal(t, "localhost:6379", cfg.Cache.Redis)
}

func TestLoadMissingDefaultFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ".", cfg.ContentDir)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestEnvModsList(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DT_MODS", "one,two")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, cfg.Mods)
}
