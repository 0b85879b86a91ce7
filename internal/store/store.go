// Package store persists encoded definition trees so that unchanged content
// can be loaded without parsing.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/marte-community/dt-engine/internal/config"
)

var (
	ErrNotFound      = errors.New("store: blob not found")
	ErrNotConfigured = errors.New("store: no cache configured")
)

// Blob is one encoded tree keyed by the fingerprint of its sources.
type Blob struct {
	Key        string
	Generation string
	Data       []byte
	UpdatedAt  time.Time
}

// BlobStore is implemented by every cache backend.
type BlobStore interface {
	Get(ctx context.Context, key string) (*Blob, error)
	Put(ctx context.Context, blob *Blob) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open returns the backend selected by cfg. Redis wins when both are set.
func Open(ctx context.Context, cfg config.CacheConfig) (BlobStore, error) {
	switch {
	case cfg.Redis != "":
		return OpenRedis(ctx, cfg.Redis)
	case cfg.SQLite != "":
		return OpenSQLite(cfg.SQLite)
	}
	return nil, ErrNotConfigured
}
