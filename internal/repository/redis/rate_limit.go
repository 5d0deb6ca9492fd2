package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/port"
)

// incrementScript bumps the counter and arms its expiry in one step, so a
// counter can never be left without a TTL.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RateLimitRepository keeps fixed-window counters in redis.
type RateLimitRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRateLimitRepository constructs a counter store. keyPrefix namespaces the keys.
func NewRateLimitRepository(client *redis.Client, keyPrefix string) *RateLimitRepository {
	return &RateLimitRepository{client: client, keyPrefix: keyPrefix}
}

// Increment atomically increments the counter at key.
func (r *RateLimitRepository) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		return 0, 0, errors.New("window must be positive")
	}

	res, err := incrementScript.Run(ctx, r.client, []string{r.key(key)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("redis rate limit increment: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("redis rate limit increment: unexpected reply %v", res)
	}

	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

func (r *RateLimitRepository) key(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + ":" + key
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
