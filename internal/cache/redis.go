package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mcoach/assessment-engine/internal/logger"
	"github.com/mcoach/assessment-engine/internal/services"
)

// KeyPrefix namespaces dashboard snapshots in redis.
const KeyPrefix = "mce:dashboard:"

const scanBatch = 200

type RedisCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

// NewRedisCache connects to addr and pings it before returning.
func NewRedisCache(log *logger.Logger, addr string, ttl time.Duration) (*RedisCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisCacheFromClient(log, rdb, ttl), nil
}

func NewRedisCacheFromClient(log *logger.Logger, rdb *goredis.Client, ttl time.Duration) *RedisCache {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisCache{log: log.With("service", "RedisSnapshotCache"), rdb: rdb, ttl: ttl}
}

func snapshotKey(actorID string) string { return KeyPrefix + actorID }

func (c *RedisCache) Get(ctx context.Context, actorID string) (*services.DashboardSnapshot, bool, error) {
	raw, err := c.rdb.Get(ctx, snapshotKey(actorID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var snap services.DashboardSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		c.log.Warn("dropping undecodable snapshot", "actor_id", actorID, "error", err)
		_ = c.rdb.Del(ctx, snapshotKey(actorID)).Err()
		return nil, false, nil
	}
	return &snap, true, nil
}

func (c *RedisCache) Set(ctx context.Context, actorID string, snap *services.DashboardSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, snapshotKey(actorID), raw, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, actorID string) error {
	return c.rdb.Del(ctx, snapshotKey(actorID)).Err()
}

// InvalidateAll scans the snapshot prefix and deletes every key it finds.
// It is O(actors) and meant for infrequent admin saves.
func (c *RedisCache) InvalidateAll(ctx context.Context) (int, error) {
	var cursor uint64
	removed := 0
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, KeyPrefix+"*", scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("scan snapshots: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("delete snapshots: %w", err)
			}
			removed += int(n)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	c.log.Info("dashboard snapshots invalidated", "count", removed)
	return removed, nil
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

var _ services.SnapshotCache = (*RedisCache)(nil)
