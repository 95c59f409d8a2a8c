package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/flight-watch/internal/domain"
	"github.com/kursadbilgin/flight-watch/internal/observability"
	"github.com/kursadbilgin/flight-watch/internal/ratelimit"
	"go.uber.org/zap"
)

// LimiterKey is the single gate every provider call shares.
const LimiterKey = "flight-status"

const (
	defaultCallTimeout  = 15 * time.Second
	defaultQueueTimeout = time.Minute
)

var _ FlightStatusClient = (*RateLimitedClient)(nil)

// RateLimitedClient queues every query behind a shared spacing gate. The wait for a slot
// is bounded by queueTimeout and the provider round trip by callTimeout, whatever
// deadline the caller brings.
type RateLimitedClient struct {
	next         FlightStatusClient
	limiter      ratelimit.RateLimiter
	callTimeout  time.Duration
	queueTimeout time.Duration
	logger       *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewRateLimitedClient(
	next FlightStatusClient,
	limiter ratelimit.RateLimiter,
	callTimeout time.Duration,
	queueTimeout time.Duration,
	logger *zap.Logger,
) (*RateLimitedClient, error) {
	if next == nil {
		return nil, fmt.Errorf("flight status client is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	if queueTimeout <= 0 {
		queueTimeout = defaultQueueTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RateLimitedClient{
		next:         next,
		limiter:      limiter,
		callTimeout:  callTimeout,
		queueTimeout: queueTimeout,
		logger:       logger,
		now:          time.Now,
	}, nil
}

func (c *RateLimitedClient) SetMetrics(metrics *observability.Metrics) {
	c.metrics = metrics
}

func (c *RateLimitedClient) Query(ctx context.Context, flightNumber string, departure time.Time) (*domain.CanonicalStatus, error) {
	queuedAt := c.now()
	if err := c.waitForSlot(ctx); err != nil {
		c.metrics.ObserveLimiterWait(c.now().Sub(queuedAt))
		c.metrics.ObserveProviderPoll("limiter_timeout", 0)
		return nil, &ProviderError{
			Message:   "timed out waiting for provider call slot",
			Transient: true,
			Cause:     err,
		}
	}
	startedAt := c.now()
	c.metrics.ObserveLimiterWait(startedAt.Sub(queuedAt))

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	status, err := c.next.Query(callCtx, flightNumber, departure)
	elapsed := c.now().Sub(startedAt)
	c.metrics.ObserveProviderPoll(pollOutcome(err), elapsed)

	if err != nil {
		c.logger.Debug("flight status query failed",
			zap.String("flightNumber", flightNumber),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrProviderUnavailable) {
			return nil, &ProviderError{Message: "flight status call timed out", Transient: true, Cause: err}
		}
		return nil, err
	}

	return status, nil
}

func (c *RateLimitedClient) waitForSlot(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.queueTimeout)
	defer cancel()
	return c.limiter.Wait(waitCtx, LimiterKey)
}

func pollOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrFlightNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAmbiguousFlight):
		return "ambiguous"
	case IsTransient(err):
		return "transient"
	default:
		return "permanent"
	}
}
