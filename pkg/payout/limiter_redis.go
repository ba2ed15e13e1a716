package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisWatermarkScript checks and forward-dates a watermark atomically.
// KEYS[1] = watermark key
// ARGV[1] = current unix time (microseconds)
// ARGV[2] = window (microseconds)
// Returns 1 when admitted, 0 when the watermark has not passed.
var redisWatermarkScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local until_us = tonumber(redis.call("GET", key))
if until_us and now < until_us then
    return 0
end

redis.call("SET", key, now + window)
redis.call("PEXPIRE", key, math.ceil(window / 1000) + 1000)
return 1
`)

// RedisWatermarks implements WatermarkStore on Redis, for deployments where
// several node replicas guard the same withdrawal path.
type RedisWatermarks struct {
	client *redis.Client
	prefix string
}

// NewRedisWatermarks creates a store backed by the given Redis server.
func NewRedisWatermarks(addr, password string, db int) *RedisWatermarks {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisWatermarks{client: rdb, prefix: "surety:watermark:"}
}

// NewRedisWatermarksURL creates a store from a redis:// URL.
func NewRedisWatermarksURL(url string) (*RedisWatermarks, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("payout: redis url: %w", err)
	}
	return &RedisWatermarks{client: redis.NewClient(opts), prefix: "surety:watermark:"}, nil
}

// Acquire implements WatermarkStore.
func (s *RedisWatermarks) Acquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	now := time.Now().UnixMicro()
	res, err := redisWatermarkScript.Run(ctx, s.client,
		[]string{s.prefix + key}, now, window.Microseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("payout: redis watermark: %w", err)
	}
	return res == 1, nil
}
