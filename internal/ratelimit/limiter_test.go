package ratelimit_test

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"

	"github.com/dhruv-khokhar/ChatterNet/internal/ratelimit"
	redisrepo "github.com/dhruv-khokhar/ChatterNet/internal/repository/redis"
)

func newRedisLimiter(t *testing.T, now *time.Time) (*ratelimit.Limiter, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := red.NewClient(&red.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	store := redisrepo.NewRateLimitRepository(client, "ratelimit")
	return ratelimit.New(store).WithClock(func() time.Time { return *now }), server
}

func TestLimiterCeilingAndWindowReset(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	limiter, _ := newRedisLimiter(t, &now)
	rule := ratelimit.Rule{Name: "global", Limit: 3, Window: 15 * time.Minute}
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := limiter.Allow(ctx, rule, "192.0.2.1")
		if err != nil {
			t.Fatalf("Allow returned error: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if res.Remaining != 3-i {
			t.Fatalf("request %d: expected remaining %d, got %d", i, 3-i, res.Remaining)
		}
	}

	res, err := limiter.Allow(ctx, rule, "192.0.2.1")
	if err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}
	if res.Allowed {
		t.Fatal("request beyond the ceiling must be rejected")
	}
	if res.RetryAfter != 15*time.Minute {
		t.Fatalf("expected retry after 15m, got %v", res.RetryAfter)
	}

	other, err := limiter.Allow(ctx, rule, "198.51.100.7")
	if err != nil || !other.Allowed {
		t.Fatalf("a different identity must have its own counter: %+v %v", other, err)
	}

	now = now.Add(15 * time.Minute)
	res, err = limiter.Allow(ctx, rule, "192.0.2.1")
	if err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}
	if !res.Allowed || res.Count != 1 {
		t.Fatalf("next window must start from zero, got %+v", res)
	}
}

func TestLimiterCounterExpiresWithWindow(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	limiter, server := newRedisLimiter(t, &now)
	rule := ratelimit.Rule{Name: "register", Limit: 50, Window: 15 * time.Minute}

	if _, err := limiter.Allow(context.Background(), rule, "192.0.2.1"); err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}

	key := "ratelimit:register:192.0.2.1:" + itoa(now.Truncate(rule.Window).Unix())
	if ttl := server.TTL(key); ttl != rule.Window {
		t.Fatalf("expected counter ttl %v, got %v", rule.Window, ttl)
	}
}

type failingStore struct{}

func (failingStore) Increment(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("redis down")
}

func TestLimiterSurfacesStoreErrors(t *testing.T) {
	limiter := ratelimit.New(failingStore{})
	if _, err := limiter.Allow(context.Background(), ratelimit.Rule{Name: "global", Limit: 1, Window: time.Minute}, "x"); err == nil {
		t.Fatal("expected store error")
	}
}

func TestLimiterRejectsInvalidRule(t *testing.T) {
	limiter := ratelimit.New(failingStore{})
	if _, err := limiter.Allow(context.Background(), ratelimit.Rule{Name: "global"}, "x"); err == nil {
		t.Fatal("expected invalid rule error")
	}
}

func TestWriteHeaders(t *testing.T) {
	reset := time.Date(2025, 10, 12, 10, 15, 0, 0, time.UTC)
	h := http.Header{}
	ratelimit.WriteHeaders(h, ratelimit.Result{
		Rule:       ratelimit.Rule{Name: "global", Limit: 100, Window: 15 * time.Minute},
		Allowed:    false,
		RetryAfter: 1500 * time.Millisecond,
		Reset:      reset,
	})

	if h.Get("X-RateLimit-Limit") != "100" || h.Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("unexpected headers %v", h)
	}
	if h.Get("Retry-After") != "2" {
		t.Fatalf("expected Retry-After rounded up to 2, got %q", h.Get("Retry-After"))
	}
	if h.Get("X-RateLimit-Reset") != itoa(reset.Unix()) {
		t.Fatalf("unexpected reset header %q", h.Get("X-RateLimit-Reset"))
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
