// Package cache implements the read-through lookups and the synchronous
// invalidation used by services that own cached resources.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/port"
)

// PostListPrefix is shared by every cached page of the post listing.
const PostListPrefix = "posts:"

// PostKey is the cache key of a single post.
func PostKey(id string) string {
	return "post:" + id
}

// PostListKey is the cache key of one listing page.
func PostListKey(page, limit int) string {
	return PostListPrefix + strconv.Itoa(page) + ":" + strconv.Itoa(limit)
}

// ReadThrough returns the cached value at key, or calls load, stores its
// result for ttl and returns it. Store failures are logged and treated as a
// miss; load errors are returned untouched and nothing is cached.
func ReadThrough[T any](ctx context.Context, store port.CacheStore, logger *zap.Logger, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if raw, found, err := store.Get(ctx, key); err != nil {
		logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	} else if found {
		var cached T
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			return cached, nil
		}
		logger.Warn("cache entry unreadable, reloading", zap.String("key", key))
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return value, nil
	}
	if err := store.Set(ctx, key, string(encoded), ttl); err != nil {
		logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}

	return value, nil
}

// Invalidate deletes the exact keys and every key under each prefix. It is
// idempotent: missing keys are not an error.
func Invalidate(ctx context.Context, store port.CacheStore, keys []string, prefixes ...string) error {
	if err := store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("invalidate keys: %w", err)
	}
	for _, prefix := range prefixes {
		if _, err := store.DeletePrefix(ctx, prefix); err != nil {
			return fmt.Errorf("invalidate prefix %s: %w", prefix, err)
		}
	}
	return nil
}

// InvalidatePost drops the single-post entry and every listing page.
func InvalidatePost(ctx context.Context, store port.CacheStore, postID string) error {
	return Invalidate(ctx, store, []string{PostKey(postID)}, PostListPrefix)
}
