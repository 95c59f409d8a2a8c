package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/flight-watch/internal/domain"
	"github.com/kursadbilgin/flight-watch/internal/observability"
	"github.com/kursadbilgin/flight-watch/internal/queue"
)

var _ Messenger = (*BrokerMessenger)(nil)

// BrokerMessenger hands messages to a chat-bot gateway through a confirmed queue publish.
// Acceptance means the broker confirmed the message, not that the user read it.
type BrokerMessenger struct {
	publisher queue.Publisher
	queue     string
	now       func() time.Time
	newID     func() string
}

func NewBrokerMessenger(publisher queue.Publisher, queueName string) (*BrokerMessenger, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	queueName = strings.TrimSpace(queueName)
	if queueName == "" {
		queueName = queue.DefaultChatQueue
	}

	return &BrokerMessenger{
		publisher: publisher,
		queue:     queueName,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

func (m *BrokerMessenger) Name() string { return BackendRabbitMQ }

func (m *BrokerMessenger) SendMessage(ctx context.Context, recipientID string, text string) error {
	if err := validateMessage(recipientID, text); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
	}

	msg := queue.ChatMessage{
		MessageID:   m.newID(),
		RecipientID: strings.TrimSpace(recipientID),
		Text:        text,
		CreatedAt:   m.now().UTC(),
	}
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		msg.CorrelationID = correlationID
	}

	if err := m.publisher.Publish(ctx, m.queue, msg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
	}
	return nil
}
