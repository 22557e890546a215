package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

const settingsKeyPrefix = "settlement:setting:"

// RedisSettingsCache keeps platform settings close to every replica; writes
// delete the key so the next read goes back to Postgres.
type RedisSettingsCache struct {
	client *redis.Client
}

func NewRedisSettingsCache(client *redis.Client) *RedisSettingsCache {
	return &RedisSettingsCache{client: client}
}

func (c *RedisSettingsCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, settingsKeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (c *RedisSettingsCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, settingsKeyPrefix+key, value, ttl).Err()
}

func (c *RedisSettingsCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, settingsKeyPrefix+key)
	}
	return c.client.Del(ctx, prefixed...).Err()
}

var _ ports.SettingsCache = (*RedisSettingsCache)(nil)
