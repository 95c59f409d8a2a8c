package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/flight-watch/internal/domain"
	"github.com/kursadbilgin/flight-watch/internal/observability"
	"github.com/kursadbilgin/flight-watch/internal/queue"
	"go.uber.org/zap"
)

// HandleFlightEvent applies a lifecycle event published by the owner of the flight store.
func (m *Monitor) HandleFlightEvent(ctx context.Context, msg queue.FlightEventMessage) error {
	if err := msg.Validate(); err != nil {
		m.metrics.IncFlightEvent(string(msg.Type), "invalid")
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	reason := domain.ConcludeCancelledUpstream
	if msg.Type == queue.FlightEventDeleted {
		reason = domain.ConcludeDeletedUpstream
	}

	if err := m.CancelFlight(ctx, msg.FlightID, reason); err != nil {
		m.metrics.IncFlightEvent(string(msg.Type), "error")
		return err
	}

	m.metrics.IncFlightEvent(string(msg.Type), "applied")
	observability.WithContextLogger(m.logger, ctx).Info("flight lifecycle event applied",
		zap.String("flightId", msg.FlightID),
		zap.String("type", string(msg.Type)),
	)
	return nil
}
