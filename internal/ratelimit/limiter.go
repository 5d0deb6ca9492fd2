// Package ratelimit evaluates fixed-window request ceilings against a shared
// counter store.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/port"
)

// Rule is a ceiling of Limit requests per Window for one identity.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Valid reports whether the rule can be enforced.
func (r Rule) Valid() bool {
	return r.Name != "" && r.Limit > 0 && r.Window > 0
}

// Result is the outcome of counting one request against a rule.
type Result struct {
	Rule       Rule
	Allowed    bool
	Count      int64
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// Limiter counts requests in fixed windows aligned to the window length.
type Limiter struct {
	store port.RateLimitStore
	now   func() time.Time
}

// New returns a limiter backed by store.
func New(store port.RateLimitStore) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// WithClock replaces the time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	if now != nil {
		l.now = now
	}
	return l
}

// Allow counts one request by identity against rule. The counter is
// incremented before the decision, so concurrent requests can never all
// slip under the ceiling.
func (l *Limiter) Allow(ctx context.Context, rule Rule, identity string) (Result, error) {
	if !rule.Valid() {
		return Result{}, fmt.Errorf("ratelimit: invalid rule %+v", rule)
	}

	now := l.now()
	windowStart := now.Truncate(rule.Window)
	key := fmt.Sprintf("%s:%s:%d", rule.Name, identity, windowStart.Unix())

	count, _, err := l.store.Increment(ctx, key, rule.Window)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit %s: %w", rule.Name, err)
	}

	reset := windowStart.Add(rule.Window)
	res := Result{
		Rule:       rule,
		Allowed:    count <= int64(rule.Limit),
		Count:      count,
		Remaining:  max(rule.Limit-int(count), 0),
		Reset:      reset,
		RetryAfter: max(reset.Sub(now), 0),
	}
	return res, nil
}

// Tighter reports whether b should be reported in headers instead of a.
func Tighter(a, b Result) bool {
	if a.Allowed != b.Allowed {
		return !b.Allowed
	}
	if a.Remaining != b.Remaining {
		return b.Remaining < a.Remaining
	}
	return b.Reset.Before(a.Reset)
}

// WriteHeaders sets the X-RateLimit-* headers and, when blocked, Retry-After.
func WriteHeaders(h http.Header, res Result) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Rule.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
	if !res.Allowed {
		h.Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
	}
}

// RejectionBody is the JSON body sent with a 429.
type RejectionBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Rejection returns the body every limiter responds with.
func Rejection() RejectionBody {
	return RejectionBody{Success: false, Message: "Too Many Requests"}
}
