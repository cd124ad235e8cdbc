package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// cacheClient is the subset of redis.Cmdable used by CachedProvider.
type cacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedProvider is a read-through Redis cache in front of another Provider.
// Redis failures degrade to the underlying provider.
type CachedProvider struct {
	next   Provider
	rdb    cacheClient
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewCachedProvider(next Provider, rdb cacheClient, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedProvider{next: next, rdb: rdb, ttl: ttl, prefix: "calendar:", logger: logger}
}

func (c *CachedProvider) Get(ctx context.Context, doctorID string) (Config, error) {
	key := c.prefix + doctorID
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cfg Config
		if err := json.Unmarshal(raw, &cfg); err == nil {
			return cfg, nil
		}
		c.logger.Warn("calendar cache entry unreadable", "doctor_id", doctorID)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("calendar cache read failed", "doctor_id", doctorID, "err", err)
	}

	cfg, err := c.next.Get(ctx, doctorID)
	if err != nil {
		return Config{}, err
	}
	if body, err := json.Marshal(cfg); err == nil {
		if err := c.rdb.Set(ctx, key, body, c.ttl).Err(); err != nil {
			c.logger.Warn("calendar cache write failed", "doctor_id", doctorID, "err", err)
		}
	}
	return cfg, nil
}

// Invalidate drops the cached configuration of doctorID.
func (c *CachedProvider) Invalidate(ctx context.Context, doctorID string) error {
	return c.rdb.Del(ctx, c.prefix+doctorID).Err()
}
