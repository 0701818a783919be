package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultTTL is how long a cached report stays valid. Reports are cheap to
// rebuild, so the TTL mainly absorbs polling dashboards.
const DefaultTTL = 30 * time.Second

// Cache stores rendered reports in Redis, keyed per stream and time bucket.
// Cache failures are logged and otherwise ignored: a missing cache entry
// just means the report is rebuilt from the store.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache connects to Redis at addr and verifies the connection with a
// ping. A non-positive ttl falls back to [DefaultTTL].
func NewCache(ctx context.Context, addr string, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		MaxRetries: 3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("report: redis ping %s: %w", addr, err)
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// key buckets cache entries by TTL so a stale report never outlives one
// full TTL window even under constant traffic.
func (c *Cache) key(stream string) string {
	bucket := time.Now().Unix() / int64(c.ttl.Seconds())
	return fmt.Sprintf("frigoscope:report:%s:%d", stream, bucket)
}

// Get returns the cached report for stream's current time bucket, if any.
func (c *Cache) Get(ctx context.Context, stream string) (*Report, bool) {
	data, err := c.client.Get(ctx, c.key(stream)).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("report cache read failed", "stream", stream, "error", err)
		}
		return nil, false
	}
	var r Report
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		slog.Warn("report cache entry corrupt", "stream", stream, "error", err)
		return nil, false
	}
	return &r, true
}

// Put stores r for stream's current time bucket.
func (c *Cache) Put(ctx context.Context, stream string, r *Report) {
	data, err := json.Marshal(r)
	if err != nil {
		slog.Warn("report cache marshal failed", "stream", stream, "error", err)
		return
	}
	if err := c.client.Set(ctx, c.key(stream), data, c.ttl).Err(); err != nil {
		slog.Warn("report cache write failed", "stream", stream, "error", err)
	}
}

// Ping verifies the Redis connection. Used by the readiness probe.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}
