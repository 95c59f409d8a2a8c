package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/flight-watch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultSpacing = 2 * time.Second
	minBackoff     = 10 * time.Millisecond
	keyPrefix      = "flightwatch:spacing:"
)

// acquireScript claims the gate for ARGV[1] milliseconds.
// It returns 0 when the slot was taken, otherwise the remaining lock time in milliseconds.
var acquireScript = goredis.NewScript(`
if redis.call("SET", KEYS[1], "1", "NX", "PX", ARGV[1]) then
  return 0
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  return 1
end
return ttl
`)

var _ ratelimit.RateLimiter = (*SpacingGate)(nil)

// SpacingGate shares the provider call spacing across processes.
// Each successful acquire holds the key for one spacing period.
type SpacingGate struct {
	client  *goredis.Client
	spacing time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
	script  *goredis.Script
}

func NewSpacingGate(client *goredis.Client, spacing time.Duration) (*SpacingGate, error) {
	return newSpacingGate(client, spacing, ratelimit.SleepWithContext)
}

func newSpacingGate(
	client *goredis.Client,
	spacing time.Duration,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*SpacingGate, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if spacing <= 0 {
		spacing = defaultSpacing
	}
	if sleepFn == nil {
		sleepFn = ratelimit.SleepWithContext
	}

	return &SpacingGate{
		client:  client,
		spacing: spacing,
		sleep:   sleepFn,
		script:  acquireScript,
	}, nil
}

// TryAcquire claims the gate for key. When the gate is held it returns the time left.
func (g *SpacingGate) TryAcquire(ctx context.Context, key string) (bool, time.Duration, error) {
	if g == nil || g.client == nil || g.script == nil {
		return false, 0, fmt.Errorf("spacing gate is not initialized")
	}

	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false, 0, fmt.Errorf("rate limit key is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	remaining, err := g.script.Run(ctx, g.client, []string{keyPrefix + normalized}, g.spacing.Milliseconds()).Int64()
	if err != nil {
		return false, 0, fmt.Errorf("failed to evaluate spacing gate: %w", err)
	}

	if remaining == 0 {
		return true, 0, nil
	}
	return false, time.Duration(remaining) * time.Millisecond, nil
}

func (g *SpacingGate) Wait(ctx context.Context, key string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		acquired, remaining, err := g.TryAcquire(ctx, key)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		if remaining < minBackoff {
			remaining = minBackoff
		}
		if err := g.sleep(ctx, remaining); err != nil {
			return err
		}
	}
}
