package geo

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"dispatchd/internal/model"
)

// RedisCache shares geocode results across processes. Entries expire after
// TTL so stale geocodes eventually refresh.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(url string) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisCache{rdb: redis.NewClient(opt), ttl: 30 * 24 * time.Hour}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (model.GeoPoint, bool) {
	val, err := c.rdb.Get(ctx, "geocode:"+key).Bytes()
	if err != nil {
		return model.GeoPoint{}, false
	}
	var pt model.GeoPoint
	if err := json.Unmarshal(val, &pt); err != nil {
		return model.GeoPoint{}, false
	}
	return pt, true
}

func (c *RedisCache) Put(ctx context.Context, key string, pt model.GeoPoint) {
	data, _ := json.Marshal(pt)
	_ = c.rdb.Set(ctx, "geocode:"+key, data, c.ttl).Err()
}
