package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/flight-watch/internal/domain"
)

const (
	FlightStorePostgres = "postgres"
	FlightStoreMongo    = "mongo"

	MessagingTelegram = "telegram"
	MessagingWebhook  = "webhook"
	MessagingRabbitMQ = "rabbitmq"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	FlightStore     string `env:"FLIGHT_STORE,default=postgres"`
	MongoDBURI      string `env:"MONGODB_URI"`
	MongoDBDatabase string `env:"MONGODB_DATABASE,default=flightwatch"`

	FlightStatusBaseURL  string        `env:"FLIGHT_STATUS_BASE_URL,default=https://aeroapi.flightaware.com/aeroapi"`
	FlightStatusAPIKey   string        `env:"FLIGHT_STATUS_API_KEY"`
	ProviderMinSpacing   time.Duration `env:"PROVIDER_MIN_SPACING,default=2s"`
	ProviderTimeout      time.Duration `env:"PROVIDER_TIMEOUT,default=15s"`
	ProviderQueueTimeout time.Duration `env:"PROVIDER_QUEUE_TIMEOUT,default=1m"`

	MessagingBackend    string        `env:"MESSAGING_BACKEND,default=telegram"`
	TelegramToken       string        `env:"TELEGRAM_TOKEN"`
	TelegramAPIURL      string        `env:"TELEGRAM_API_URL"`
	MessagingWebhookURL string        `env:"MESSAGING_WEBHOOK_URL"`
	MessagingQueue      string        `env:"MESSAGING_QUEUE,default=chatbot.outbound"`
	MessagingTimeout    time.Duration `env:"MESSAGING_TIMEOUT,default=10s"`

	PollIntervalMinutes int           `env:"POLL_INTERVAL_MINUTES,default=30"`
	TickInterval        time.Duration `env:"MONITOR_TICK_INTERVAL,default=1m"`
	MonitorWorkers      int           `env:"MONITOR_WORKERS,default=8"`
	GracePeriod         time.Duration `env:"MONITOR_GRACE_PERIOD,default=30m"`

	LedgerRetention time.Duration `env:"LEDGER_RETENTION,default=168h"`
	JanitorCron     string        `env:"JANITOR_CRON,default=@hourly"`

	LifecycleQueue   string `env:"LIFECYCLE_QUEUE,default=flight.lifecycle"`
	ConsumerPrefetch int    `env:"CONSUMER_PREFETCH,default=16"`
	APIPort          int    `env:"API_PORT,default=8080"`
	LogLevel         string `env:"LOG_LEVEL,default=info"`
}

// Load reads .env when present, then the process environment, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.FlightStore = strings.ToLower(strings.TrimSpace(cfg.FlightStore))
	cfg.MessagingBackend = strings.ToLower(strings.TrimSpace(cfg.MessagingBackend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.DatabaseDSN) == "" {
		errs = append(errs, fmt.Errorf("%w: DATABASE_DSN is required", domain.ErrConfigurationInvalid))
	}
	if strings.TrimSpace(c.RedisURL) == "" {
		errs = append(errs, fmt.Errorf("%w: REDIS_URL is required", domain.ErrConfigurationInvalid))
	}

	if err := domain.ValidateIntervalMinutes(c.PollIntervalMinutes); err != nil {
		errs = append(errs, err)
	}

	switch c.FlightStore {
	case FlightStorePostgres:
	case FlightStoreMongo:
		if strings.TrimSpace(c.MongoDBURI) == "" {
			errs = append(errs, fmt.Errorf("%w: MONGODB_URI is required when FLIGHT_STORE=mongo", domain.ErrConfigurationInvalid))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unsupported FLIGHT_STORE %q", domain.ErrConfigurationInvalid, c.FlightStore))
	}

	switch c.MessagingBackend {
	case MessagingTelegram:
		if strings.TrimSpace(c.TelegramToken) == "" {
			errs = append(errs, fmt.Errorf("%w: TELEGRAM_TOKEN is required for the telegram backend", domain.ErrConfigurationInvalid))
		}
	case MessagingWebhook:
		if strings.TrimSpace(c.MessagingWebhookURL) == "" {
			errs = append(errs, fmt.Errorf("%w: MESSAGING_WEBHOOK_URL is required for the webhook backend", domain.ErrConfigurationInvalid))
		}
	case MessagingRabbitMQ:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			errs = append(errs, fmt.Errorf("%w: RABBITMQ_URL is required for the rabbitmq backend", domain.ErrConfigurationInvalid))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unsupported MESSAGING_BACKEND %q", domain.ErrConfigurationInvalid, c.MessagingBackend))
	}

	if c.ProviderMinSpacing < 0 {
		errs = append(errs, fmt.Errorf("%w: PROVIDER_MIN_SPACING must not be negative", domain.ErrConfigurationInvalid))
	}
	if c.ProviderQueueTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: PROVIDER_QUEUE_TIMEOUT must be positive", domain.ErrConfigurationInvalid))
	}
	if c.MonitorWorkers <= 0 {
		errs = append(errs, fmt.Errorf("%w: MONITOR_WORKERS must be positive", domain.ErrConfigurationInvalid))
	}

	return errors.Join(errs...)
}
