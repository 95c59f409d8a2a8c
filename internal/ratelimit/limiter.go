package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter gates outbound calls per key. Wait blocks until the caller owns a slot.
type RateLimiter interface {
	Wait(ctx context.Context, key string) error
}

const DefaultSpacing = 2 * time.Second

var _ RateLimiter = (*SpacingLimiter)(nil)

// SpacingLimiter enforces a minimum spacing between calls sharing a key.
// Reservations are taken in arrival order, so waiters are served first come first served.
type SpacingLimiter struct {
	spacing time.Duration
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewSpacingLimiter(spacing time.Duration) *SpacingLimiter {
	return newSpacingLimiter(spacing, time.Now, SleepWithContext)
}

func newSpacingLimiter(
	spacing time.Duration,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) *SpacingLimiter {
	if spacing <= 0 {
		spacing = DefaultSpacing
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = SleepWithContext
	}

	return &SpacingLimiter{
		spacing:  spacing,
		now:      nowFn,
		sleep:    sleepFn,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *SpacingLimiter) Spacing() time.Duration {
	return l.spacing
}

func (l *SpacingLimiter) Wait(ctx context.Context, key string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	limiter, err := l.limiterFor(key)
	if err != nil {
		return err
	}

	now := l.now()
	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return fmt.Errorf("rate limiter cannot grant a slot for %q", key)
	}

	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	if deadline, ok := ctx.Deadline(); ok && deadline.Sub(now) < delay {
		reservation.CancelAt(now)
		return fmt.Errorf("rate limiter wait of %s exceeds deadline: %w", delay, context.DeadlineExceeded)
	}

	if err := l.sleep(ctx, delay); err != nil {
		reservation.CancelAt(l.now())
		return err
	}

	return nil
}

func (l *SpacingLimiter) limiterFor(key string) (*rate.Limiter, error) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return nil, fmt.Errorf("rate limit key is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[normalized]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.spacing), 1)
		l.limiters[normalized] = limiter
	}
	return limiter, nil
}

// Chain waits on each limiter in order; the first error aborts.
func Chain(limiters ...RateLimiter) RateLimiter {
	filtered := make(chainLimiter, 0, len(limiters))
	for _, limiter := range limiters {
		if limiter != nil {
			filtered = append(filtered, limiter)
		}
	}
	return filtered
}

type chainLimiter []RateLimiter

func (c chainLimiter) Wait(ctx context.Context, key string) error {
	for _, limiter := range c {
		if err := limiter.Wait(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func SleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
