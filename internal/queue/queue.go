package queue

import (
	"context"
	"fmt"
	"strings"
)

const (
	// FlightLifecycleQueue carries cancellation and deletion events from the flight store owner.
	FlightLifecycleQueue = "flight.lifecycle"
	// DefaultChatQueue is consumed by the chat-bot gateway that delivers outbound messages.
	DefaultChatQueue = "chatbot.outbound"
)

// Publisher publishes outbound chat messages and waits for the broker to confirm them.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg ChatMessage) error
	Close() error
}

// FlightEventHandler handles a consumed flight lifecycle event.
type FlightEventHandler func(ctx context.Context, msg FlightEventMessage) error

// Consumer consumes flight lifecycle events from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler FlightEventHandler) error
	Close() error
}

// DLQName returns the dead-letter queue name for a queue, e.g. dlq.flight.lifecycle.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", normalizeQueueName(queue))
}

func normalizeQueueName(queue string) string {
	return strings.ToLower(strings.TrimSpace(queue))
}

// QueueNames returns the declared work queues, de-duplicated, with empty names dropped.
func QueueNames(queues ...string) []string {
	seen := make(map[string]struct{}, len(queues))
	names := make([]string, 0, len(queues))
	for _, queue := range queues {
		name := normalizeQueueName(queue)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
