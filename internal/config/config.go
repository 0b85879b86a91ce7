// Package config loads dt settings from a TOML file with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "dt.toml"

type Config struct {
	ContentDir string            `toml:"content_dir" env:"DT_CONTENT_DIR"`
	Mods       []string          `toml:"mods" env:"DT_MODS" envSeparator:","`
	Schema     string            `toml:"schema" env:"DT_SCHEMA"`
	Globals    map[string]string `toml:"globals"`
	Seed       int64             `toml:"seed" env:"DT_SEED"`
	Log        LogConfig         `toml:"log"`
	Cache      CacheConfig       `toml:"cache"`
}

type LogConfig struct {
	Level  string `toml:"level" env:"DT_LOG_LEVEL"`
	Format string `toml:"format" env:"DT_LOG_FORMAT"`
}

type CacheConfig struct {
	SQLite string `toml:"sqlite" env:"DT_CACHE_SQLITE"`
	Redis  string `toml:"redis" env:"DT_CACHE_REDIS"`
}

func Default() *Config {
	return &Config{
		ContentDir: ".",
		Globals:    make(map[string]string),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (DefaultPath when empty) and applies DT_* environment
// overrides. A missing default file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Globals == nil {
		cfg.Globals = make(map[string]string)
	}
	return cfg, nil
}

// LogLevel maps the configured level name to a slog level.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
