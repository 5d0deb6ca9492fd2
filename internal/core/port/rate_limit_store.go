package port

import (
	"context"
	"time"
)

// RateLimitStore keeps fixed-window counters. Increment bumps the counter at
// key and returns the post-increment value plus the time left before the key
// expires. The expiry is set to window when the counter is created.
type RateLimitStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}
