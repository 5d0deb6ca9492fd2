package port

import (
	"context"
	"time"
)

// CacheStore is the key/value surface the read-through cache needs.
// Get reports a miss with found=false and a nil error.
type CacheStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}
