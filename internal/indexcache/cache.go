// Package indexcache shares precomputed sample boundaries between loader
// processes through Redis, so only the first process pays for the row
// count scan over every recording.
package indexcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/banshee-data/soccer-diffusion/internal/dataset"
	"github.com/banshee-data/soccer-diffusion/internal/monitoring"
)

// ErrMiss is returned when no boundaries are cached for a key.
var ErrMiss = errors.New("index cache miss")

// DefaultPrefix namespaces every key written by the cache.
const DefaultPrefix = "soccer-diffusion:index:"

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient returns a Redis client for opts.
func NewClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

// entry is the cached JSON value.
type entry struct {
	FutureLength int                `json:"future_length"`
	Stride       int                `json:"stride"`
	Boundaries   []dataset.Boundary `json:"boundaries"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Cache stores sample boundaries per dataset, future length and stride.
type Cache struct {
	c      *redis.Client
	prefix string
	ttl    time.Duration
}

// New returns a cache. A zero ttl keeps entries until invalidated.
func New(c *redis.Client, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Cache{c: c, prefix: prefix, ttl: ttl}
}

// Key is the Redis key of one index.
func (c *Cache) Key(name string, future, stride int) string {
	return fmt.Sprintf("%s%s:f%d:s%d", c.prefix, name, future, stride)
}

// Ping checks the connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.c.Ping(ctx).Err()
}

// Get loads a cached index.
func (c *Cache) Get(ctx context.Context, name string, future, stride int) (*dataset.Index, error) {
	key := c.Key(name, future, stride)
	val, err := c.c.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	var e entry
	if err := json.Unmarshal(val, &e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if e.FutureLength != future || e.Stride != stride {
		return nil, fmt.Errorf("%s holds an index for future=%d stride=%d", key, e.FutureLength, e.Stride)
	}
	return dataset.IndexFromBoundaries(e.Boundaries, future, stride)
}

// Put stores an index.
func (c *Cache) Put(ctx context.Context, name string, ix *dataset.Index) error {
	key := c.Key(name, ix.FutureLength(), ix.Stride())
	val, err := json.Marshal(entry{
		FutureLength: ix.FutureLength(),
		Stride:       ix.Stride(),
		Boundaries:   ix.Boundaries(),
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.c.Set(ctx, key, val, c.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Invalidate drops every cached index of a dataset, whatever its window.
// Importers call it after adding recordings.
func (c *Cache) Invalidate(ctx context.Context, name string) (int, error) {
	pattern := c.prefix + name + ":*"
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := c.c.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return deleted, fmt.Errorf("scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := c.c.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("delete index keys: %w", err)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// BuildFunc computes an index on a cache miss.
type BuildFunc func(ctx context.Context) (*dataset.Index, error)

// LoadOrBuild returns the cached index or builds and stores it. A broken
// cache never fails the load: read and write errors are logged and the
// index is built from the store.
func (c *Cache) LoadOrBuild(ctx context.Context, name string, future, stride int, build BuildFunc) (ix *dataset.Index, hit bool, err error) {
	ix, err = c.Get(ctx, name, future, stride)
	if err == nil {
		return ix, true, nil
	}
	if !errors.Is(err, ErrMiss) {
		monitoring.L().Warn("index cache read failed", zap.String("key", c.Key(name, future, stride)), zap.Error(err))
	}
	ix, err = build(ctx)
	if err != nil {
		return nil, false, err
	}
	if err := c.Put(ctx, name, ix); err != nil {
		monitoring.L().Warn("index cache write failed", zap.String("key", c.Key(name, future, stride)), zap.Error(err))
	}
	return ix, false, nil
}
