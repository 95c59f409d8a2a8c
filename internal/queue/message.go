package queue

import (
	"fmt"
	"strings"
	"time"
)

// FlightEventType is the kind of upstream change announced on the lifecycle queue.
type FlightEventType string

const (
	FlightEventCancelled FlightEventType = "cancelled"
	FlightEventDeleted   FlightEventType = "deleted"
)

func (t FlightEventType) IsValid() bool {
	return t == FlightEventCancelled || t == FlightEventDeleted
}

// FlightEventMessage is the broker payload published when a flight is cancelled or deleted upstream.
type FlightEventMessage struct {
	FlightID   string          `json:"flightId"`
	Type       FlightEventType `json:"type"`
	OccurredAt time.Time       `json:"occurredAt,omitempty"`
}

func (m FlightEventMessage) Validate() error {
	if strings.TrimSpace(m.FlightID) == "" {
		return fmt.Errorf("flightId is required")
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("invalid flight event type %q", m.Type)
	}
	return nil
}

// ChatMessage is the broker payload handed to the chat-bot gateway.
type ChatMessage struct {
	MessageID     string    `json:"messageId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	RecipientID   string    `json:"recipientId"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (m ChatMessage) Validate() error {
	if strings.TrimSpace(m.MessageID) == "" {
		return fmt.Errorf("messageId is required")
	}
	if strings.TrimSpace(m.RecipientID) == "" {
		return fmt.Errorf("recipientId is required")
	}
	if strings.TrimSpace(m.Text) == "" {
		return fmt.Errorf("text is required")
	}
	return nil
}
