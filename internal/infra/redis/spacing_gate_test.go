package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestSpacingGateTryAcquire(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)

	gate, err := newSpacingGate(rdb, 2*time.Second, nil)
	if err != nil {
		t.Fatalf("newSpacingGate() error = %v", err)
	}

	acquired, _, err := gate.TryAcquire(context.Background(), "flight-status")
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if !acquired {
		t.Fatal("first call should acquire the gate")
	}

	acquired, remaining, err := gate.TryAcquire(context.Background(), "flight-status")
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if acquired {
		t.Fatal("second call should be held back by the gate")
	}
	if remaining <= 0 || remaining > 2*time.Second {
		t.Fatalf("remaining = %s, want within (0, 2s]", remaining)
	}

	mr.FastForward(2 * time.Second)

	acquired, _, err = gate.TryAcquire(context.Background(), "flight-status")
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if !acquired {
		t.Fatal("gate should open after one spacing period")
	}
}

func TestSpacingGateKeysAreIndependent(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)

	gate, err := newSpacingGate(rdb, time.Second, nil)
	if err != nil {
		t.Fatalf("newSpacingGate() error = %v", err)
	}

	for _, key := range []string{"flight-status", "other"} {
		acquired, _, err := gate.TryAcquire(context.Background(), key)
		if err != nil {
			t.Fatalf("TryAcquire(%s) error = %v", key, err)
		}
		if !acquired {
			t.Fatalf("TryAcquire(%s) should acquire on first request", key)
		}
	}
}

func TestSpacingGateWaitSleepsForRemainingTime(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)

	var slept []time.Duration
	gate, err := newSpacingGate(rdb, 2*time.Second, func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		mr.FastForward(d)
		return nil
	})
	if err != nil {
		t.Fatalf("newSpacingGate() error = %v", err)
	}

	if err := gate.Wait(context.Background(), "flight-status"); err != nil {
		t.Fatalf("Wait() first call error = %v", err)
	}
	if err := gate.Wait(context.Background(), "flight-status"); err != nil {
		t.Fatalf("Wait() second call error = %v", err)
	}

	if len(slept) == 0 {
		t.Fatal("expected Wait() to sleep before the second call")
	}
	var total time.Duration
	for _, d := range slept {
		total += d
	}
	if total < 2*time.Second-10*time.Millisecond {
		t.Fatalf("slept %s in total, want about 2s", total)
	}
}

func TestSpacingGateWaitContextDeadline(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)

	gate, err := newSpacingGate(rdb, time.Minute, nil)
	if err != nil {
		t.Fatalf("newSpacingGate() error = %v", err)
	}

	if err := gate.Wait(context.Background(), "flight-status"); err != nil {
		t.Fatalf("Wait() first call error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err = gate.Wait(ctx, "flight-status")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestNewSpacingGateRequiresClient(t *testing.T) {
	t.Parallel()

	if _, err := NewSpacingGate(nil, time.Second); err == nil {
		t.Fatal("NewSpacingGate(nil) error = nil, want error")
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return mr, rdb
}
