package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/flight-watch/internal/domain"
)

const defaultWebhookTimeout = 10 * time.Second

type webhookRequest struct {
	RecipientID string `json:"recipientId"`
	Text        string `json:"text"`
}

var _ Messenger = (*WebhookMessenger)(nil)

// WebhookMessenger posts messages to a chat gateway; any 2xx counts as accepted.
type WebhookMessenger struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookMessenger(endpoint string, timeout time.Duration) (*WebhookMessenger, error) {
	client := resty.New()
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return NewWebhookMessengerWithClient(endpoint, client)
}

func NewWebhookMessengerWithClient(endpoint string, client *resty.Client) (*WebhookMessenger, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookMessenger{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (m *WebhookMessenger) Name() string { return BackendWebhook }

func (m *WebhookMessenger) SendMessage(ctx context.Context, recipientID string, text string) error {
	if m == nil || m.client == nil {
		return fmt.Errorf("webhook messenger is not initialized")
	}
	if err := validateMessage(recipientID, text); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
	}

	response, err := m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(webhookRequest{RecipientID: strings.TrimSpace(recipientID), Text: text}).
		Post(m.endpoint)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: request canceled: %v", domain.ErrDeliveryFailed, err)
		}
		return fmt.Errorf("%w: webhook request failed: %v", domain.ErrDeliveryFailed, err)
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	body := strings.TrimSpace(response.String())
	if body == "" {
		return fmt.Errorf("%w: webhook returned status %d", domain.ErrDeliveryFailed, statusCode)
	}
	return fmt.Errorf("%w: webhook returned status %d: %s", domain.ErrDeliveryFailed, statusCode, body)
}
