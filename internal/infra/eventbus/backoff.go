package eventbus

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Backoff configures exponential retries with jitter.
type Backoff struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultBackoff is used when the client config leaves reconnect settings empty.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

func (b Backoff) normalized() Backoff {
	def := DefaultBackoff()
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = 1
	}
	if b.InitialDelay <= 0 {
		b.InitialDelay = def.InitialDelay
	}
	if b.MaxDelay < b.InitialDelay {
		b.MaxDelay = b.InitialDelay
	}
	if b.Multiplier < 1 {
		b.Multiplier = def.Multiplier
	}
	return b
}

// retry runs fn until it succeeds, the attempts run out or ctx is done.
func retry(ctx context.Context, b Backoff, fn func() error) error {
	b = b.normalized()

	var lastErr error
	delay := b.InitialDelay

	for attempt := 1; attempt <= b.MaxAttempts; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt == b.MaxAttempts {
			break
		}

		if err := sleep(ctx, withJitter(delay)); err != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, err)
		}

		delay = time.Duration(float64(delay) * b.Multiplier)
		if delay > b.MaxDelay {
			delay = b.MaxDelay
		}
	}

	return fmt.Errorf("after %d attempts: %w", b.MaxAttempts, lastErr)
}

// withJitter adds up to 25% on top of d.
func withJitter(d time.Duration) time.Duration {
	if d < 4 {
		return d
	}
	randMu.Lock()
	j := time.Duration(randSource.Int63n(int64(d / 4)))
	randMu.Unlock()
	return d + j
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
