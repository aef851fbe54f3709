// Package cache keeps fetched market data across invocations in a WAL.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"
)

const (
	defaultCacheDir   = "./wal/cache"
	cacheSegmentLimit = 1000
	cacheMaxSegments  = 100
	cacheKeyPrefix    = "cache_"
)

// Cache TTL-bounded result cache. Entries are appended to the WAL; the latest write per key
// wins on replay. A nil *Cache is a valid cache that never hits.
type Cache struct {
	l       *zap.Logger
	wal     *gowal.Wal
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]entry
}

type entry struct {
	StoredAt time.Time       `json:"stored_at"`
	Value    json.RawMessage `json:"value"`
}

// Option configures the Cache.
type Option func(*Cache)

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// Open loads the cache stored under dir.
func Open(l *zap.Logger, dir string, ttl time.Duration, opts ...Option) (*Cache, error) {
	if l == nil {
		l = zap.NewNop()
	}
	if dir == "" {
		dir = defaultCacheDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "cache_",
		SegmentThreshold: cacheSegmentLimit,
		MaxSegments:      cacheMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init cache WAL")
	}

	c := &Cache{
		l:       l,
		wal:     wal,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}

	for msg := range wal.Iterator() {
		var e entry
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			l.Warn("skipping unreadable cache record", zap.String("key", msg.Key), zap.Error(err))
			continue
		}
		if prev, ok := c.entries[msg.Key]; ok && prev.StoredAt.After(e.StoredAt) {
			continue
		}
		c.entries[msg.Key] = e
	}

	l.Debug("cache loaded", zap.String("dir", dir), zap.Int("entries", len(c.entries)))

	return c, nil
}

// Get decodes the fresh entry for key into dst and reports whether there was one.
func (c *Cache) Get(key string, dst any) (bool, error) {
	if c == nil || c.ttl <= 0 {
		return false, nil
	}

	c.mu.Lock()
	e, ok := c.entries[cacheKeyPrefix+key]
	c.mu.Unlock()

	if !ok || c.now().Sub(e.StoredAt) > c.ttl {
		return false, nil
	}
	if err := json.Unmarshal(e.Value, dst); err != nil {
		return false, errors.Wrapf(err, "decode cached %s", key)
	}
	return true, nil
}

// Put stores value under key.
func (c *Cache) Put(key string, value any) error {
	if c == nil || c.ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode cached %s", key)
	}
	e := entry{StoredAt: c.now(), Value: raw}
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrapf(err, "encode cache entry %s", key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.wal.Write(c.wal.CurrentIndex()+1, cacheKeyPrefix+key, payload); err != nil {
		return errors.Wrapf(err, "write cache entry %s", key)
	}
	c.entries[cacheKeyPrefix+key] = e
	return nil
}

// Close closes the underlying WAL.
func (c *Cache) Close() error {
	if c == nil || c.wal == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.wal.Close()
}

// Fetch returns the cached value for key or calls load and caches its result.
// Cache failures are logged and never fail the fetch.
func Fetch[T any](ctx context.Context, c *Cache, key string, load func(ctx context.Context) (T, error)) (T, error) {
	var cached T
	hit, err := c.Get(key, &cached)
	if err != nil {
		c.logger().Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}
	if hit {
		c.logger().Debug("cache hit", zap.String("key", key))
		return cached, nil
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	if err := c.Put(key, value); err != nil {
		c.logger().Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return value, nil
}

func (c *Cache) logger() *zap.Logger {
	if c == nil {
		return zap.NewNop()
	}
	return c.l
}
