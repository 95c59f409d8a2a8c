package messaging

import (
	"context"
	"fmt"
	"strings"
)

// Messenger delivers one text message to one chat recipient.
// A nil error means the channel accepted the message; failures wrap domain.ErrDeliveryFailed.
type Messenger interface {
	SendMessage(ctx context.Context, recipientID string, text string) error
	Name() string
}

const (
	BackendTelegram = "telegram"
	BackendWebhook  = "webhook"
	BackendRabbitMQ = "rabbitmq"
)

func validateMessage(recipientID, text string) error {
	if strings.TrimSpace(recipientID) == "" {
		return fmt.Errorf("recipient id is required")
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message text is required")
	}
	return nil
}
