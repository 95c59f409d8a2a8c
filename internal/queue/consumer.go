package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/flight-watch/internal/domain"
	"github.com/kursadbilgin/flight-watch/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	consumerTag    = "flight-watch-lifecycle"
	handlerTimeout = 30 * time.Second
)

var _ Consumer = (*RabbitMQConsumer)(nil)

// disposition is what happens to a delivery once its handler has run.
type disposition int

const (
	dispositionAck disposition = iota
	dispositionDeadLetter
	dispositionRequeue
)

// RabbitMQConsumer consumes flight lifecycle events and resubscribes with backoff until ctx ends.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RabbitMQConsumer{
		client:   client,
		prefetch: max(prefetch, 1),
		logger:   logger,
	}
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler FlightEventHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	queue = normalizeQueueName(queue)
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := minDialBackoff
	for ctx.Err() == nil {
		err := c.subscribe(ctx, queue, handler)
		if ctx.Err() != nil {
			break
		}
		if err == nil {
			backoff = minDialBackoff
			continue
		}

		c.logger.Warn("lifecycle subscription dropped, resubscribing",
			zap.String("queue", queue),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxDialBackoff)
	}
	return nil
}

// subscribe drains one channel's deliveries until the channel closes or ctx ends.
func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler FlightEventHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %q closed", queue)
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

// handleDelivery runs handler for one delivery and settles it. The returned error is
// only non-nil when settling failed, which means the channel is unusable.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler FlightEventHandler) error {
	correlationID := d.CorrelationId
	if correlationID == "" {
		correlationID = observability.NewCorrelationID()
	}
	ctx = observability.WithCorrelationID(ctx, correlationID)
	logger := observability.WithContextLogger(c.logger, ctx)

	var msg FlightEventMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		logger.Warn("dead-lettering undecodable flight event", zap.Error(err))
		return settle(d, dispositionDeadLetter)
	}
	if err := msg.Validate(); err != nil {
		logger.Warn("dead-lettering invalid flight event", zap.String("flightId", msg.FlightID), zap.Error(err))
		return settle(d, dispositionDeadLetter)
	}

	handlerCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	outcome := classifyHandlerError(handler(handlerCtx, msg))
	switch outcome.disposition {
	case dispositionDeadLetter:
		logger.Warn("dead-lettering unprocessable flight event",
			zap.String("flightId", msg.FlightID),
			zap.String("type", string(msg.Type)),
			zap.Error(outcome.err),
		)
	case dispositionRequeue:
		logger.Warn("requeueing flight event after handler error",
			zap.String("flightId", msg.FlightID),
			zap.Error(outcome.err),
		)
	}
	return settle(d, outcome.disposition)
}

type handlerOutcome struct {
	disposition disposition
	err         error
}

// classifyHandlerError dead-letters events that can never succeed (unknown flight, bad
// payload) and requeues everything else.
func classifyHandlerError(err error) handlerOutcome {
	switch {
	case err == nil:
		return handlerOutcome{disposition: dispositionAck}
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNotFound):
		return handlerOutcome{disposition: dispositionDeadLetter, err: err}
	default:
		return handlerOutcome{disposition: dispositionRequeue, err: err}
	}
}

func settle(d amqp.Delivery, disp disposition) error {
	var err error
	switch disp {
	case dispositionAck:
		err = d.Ack(false)
	case dispositionDeadLetter:
		err = d.Reject(false)
	case dispositionRequeue:
		err = d.Nack(false, true)
	}
	if err != nil {
		return fmt.Errorf("failed to settle delivery %d: %w", d.DeliveryTag, err)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
