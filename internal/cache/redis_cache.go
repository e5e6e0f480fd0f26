package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"nexuserp/backend/internal/domain"
)

type RedisSnapshotCache struct {
	client *redis.Client
	key    string
}

func NewRedisSnapshotCache(addr string, password string, db int) *RedisSnapshotCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSnapshotCache{client: client, key: snapshotKey}
}

func (c *RedisSnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSnapshotCache) Close() error {
	return c.client.Close()
}

func (c *RedisSnapshotCache) Get(ctx context.Context) (*domain.Snapshot, bool, error) {
	val, err := c.client.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, false, err
	}
	return &snap, true, nil
}

func (c *RedisSnapshotCache) Set(ctx context.Context, snap *domain.Snapshot, ttl time.Duration) error {
	if snap == nil || ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key, payload, ttl).Err()
}

func (c *RedisSnapshotCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}
