package messaging

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kursadbilgin/flight-watch/internal/domain"
	"gopkg.in/telebot.v3"
)

const defaultTelegramTimeout = 10 * time.Second

// chatRecipient accepts numeric chat ids as well as @channel names.
type chatRecipient string

func (r chatRecipient) Recipient() string { return string(r) }

var _ Messenger = (*TelegramMessenger)(nil)

// TelegramMessenger sends through the Telegram Bot API. It never polls for updates.
type TelegramMessenger struct {
	bot *telebot.Bot
}

// NewTelegramMessenger builds an offline bot; apiURL overrides the Bot API endpoint when set.
func NewTelegramMessenger(token string, apiURL string, timeout time.Duration) (*TelegramMessenger, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if timeout <= 0 {
		timeout = defaultTelegramTimeout
	}

	bot, err := telebot.NewBot(telebot.Settings{
		Token:   strings.TrimSpace(token),
		URL:     strings.TrimRight(strings.TrimSpace(apiURL), "/"),
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &TelegramMessenger{bot: bot}, nil
}

func (m *TelegramMessenger) Name() string { return BackendTelegram }

func (m *TelegramMessenger) SendMessage(ctx context.Context, recipientID string, text string) error {
	if m == nil || m.bot == nil {
		return fmt.Errorf("telegram messenger is not initialized")
	}
	if err := validateMessage(recipientID, text); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
	}

	// telebot has no context support; honour cancellation before the call at least.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
	}

	_, err := m.bot.Send(chatRecipient(strings.TrimSpace(recipientID)), text, &telebot.SendOptions{
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("%w: telegram: %v", domain.ErrDeliveryFailed, err)
	}

	return nil
}
