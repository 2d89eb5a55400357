package window

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	cachePrefix = "window:cache:"
	clickPrefix = "window:click:"
)

// RedisCache is the shared Cache used by every gateway instance.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func cacheKey(tenantID uuid.UUID, customer string) string {
	return cachePrefix + tenantID.String() + ":" + customer
}

func clickKey(tenantID uuid.UUID, customer string) string {
	return clickPrefix + tenantID.String() + ":" + customer
}

func (c *RedisCache) Put(ctx context.Context, tenantID uuid.UUID, customer string, p CachedPayload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	// SET replaces any unconsumed payload and restarts the TTL.
	return c.rdb.Set(ctx, cacheKey(tenantID, customer), raw, CacheTTL).Err()
}

func (c *RedisCache) Consume(ctx context.Context, tenantID uuid.UUID, customer string) (CachedPayload, bool, error) {
	raw, err := c.rdb.GetDel(ctx, cacheKey(tenantID, customer)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedPayload{}, false, nil
	}
	if err != nil {
		return CachedPayload{}, false, err
	}
	var p CachedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return CachedPayload{}, false, err
	}
	return p, true, nil
}

func (c *RedisCache) MarkClick(ctx context.Context, tenantID uuid.UUID, customer string) error {
	return c.rdb.Set(ctx, clickKey(tenantID, customer), time.Now().UTC().Format(time.RFC3339Nano), Open).Err()
}

func (c *RedisCache) ClickedWithin(ctx context.Context, tenantID uuid.UUID, customer string, window time.Duration) (bool, error) {
	raw, err := c.rdb.Get(ctx, clickKey(tenantID, customer)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false, nil
	}
	return time.Now().UTC().Sub(at) < window, nil
}
