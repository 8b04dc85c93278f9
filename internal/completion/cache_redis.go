package completion

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/educaition/station/internal/model"
)

// RedisCache is the optional lab-shared completion guard. Stations in the
// same room point at one LAN Redis, so a participant hopping stations is
// still blocked even before the backend is consulted. Keys stay scoped to
// the device identifier, matching the local cache's semantics.
type RedisCache struct {
	rdb      *redis.Client
	deviceID string
}

// NewRedisCache creates a shared cache for the given device.
func NewRedisCache(rdb *redis.Client, deviceID string) *RedisCache {
	return &RedisCache{rdb: rdb, deviceID: deviceID}
}

func (c *RedisCache) key(testType model.TestType, roomKey string) string {
	return fmt.Sprintf("completed:%s:%s:%s", c.deviceID, testType, roomKey)
}

func (c *RedisCache) Has(ctx context.Context, testType model.TestType, roomKey string) (bool, error) {
	err := c.rdb.Get(ctx, c.key(testType, roomKey)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) Mark(ctx context.Context, testType model.TestType, roomKey string) error {
	return c.rdb.Set(ctx, c.key(testType, roomKey), "1", 0).Err()
}

func (c *RedisCache) Clear(ctx context.Context, testType model.TestType, roomKey string) error {
	return c.rdb.Del(ctx, c.key(testType, roomKey)).Err()
}
