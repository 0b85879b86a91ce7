package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces blob keys.
const DefaultRedisPrefix = "dt:blob:"

// RedisStore keeps blobs in Redis hashes so several machines can share a
// cache.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ BlobStore = (*RedisStore)(nil)

// OpenRedis connects to the server at url ("redis://host:port/db").
func OpenRedis(ctx context.Context, url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStore(rdb), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: DefaultRedisPrefix}
}

// SetTTL makes stored blobs expire after ttl. Zero keeps them forever.
func (r *RedisStore) SetTTL(ttl time.Duration) {
	r.ttl = ttl
}

func (r *RedisStore) Get(ctx context.Context, key string) (*Blob, error) {
	m, err := r.client.HGetAll(ctx, r.prefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", key, err)
	}
	data, ok := m["data"]
	if !ok {
		return nil, ErrNotFound
	}
	b := &Blob{Key: key, Generation: m["generation"], Data: []byte(data)}
	if ms, err := strconv.ParseInt(m["updated_at"], 10, 64); err == nil {
		b.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return b, nil
}

func (r *RedisStore) Put(ctx context.Context, b *Blob) error {
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	k := r.prefix + b.Key
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		p.HSet(ctx, k,
			"generation", b.Generation,
			"data", b.Data,
			"updated_at", b.UpdatedAt.UnixMilli())
		if r.ttl > 0 {
			p.Expire(ctx, k, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put blob %s: %w", b.Key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
