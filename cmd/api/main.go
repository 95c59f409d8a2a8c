package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/flight-watch/internal/config"
	"github.com/kursadbilgin/flight-watch/internal/handler"
	"github.com/kursadbilgin/flight-watch/internal/infra/mongodb"
	"github.com/kursadbilgin/flight-watch/internal/infra/postgresql"
	"github.com/kursadbilgin/flight-watch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/flight-watch/internal/infra/redis"
	"github.com/kursadbilgin/flight-watch/internal/messaging"
	"github.com/kursadbilgin/flight-watch/internal/observability"
	"github.com/kursadbilgin/flight-watch/internal/provider"
	"github.com/kursadbilgin/flight-watch/internal/queue"
	"github.com/kursadbilgin/flight-watch/internal/ratelimit"
	"github.com/kursadbilgin/flight-watch/internal/repository"
	"github.com/kursadbilgin/flight-watch/internal/service"
	"github.com/kursadbilgin/flight-watch/internal/transport"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("flight-watch stopped with error", zap.Error(err))
	}
	logger.Info("flight-watch stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	checks := []handler.ReadinessCheck{handler.PostgresCheck(sqlDB), handler.RedisCheck(rdb)}

	var flights repository.FlightStore = repository.NewGormFlightRepo(db)
	if cfg.FlightStore == config.FlightStoreMongo {
		mongoClient, err := mongodb.NewClient(ctx, cfg.MongoDBURI)
		if err != nil {
			return fmt.Errorf("mongodb initialization failed: %w", err)
		}
		defer func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = mongoClient.Disconnect(disconnectCtx)
		}()

		mongoFlights, err := repository.NewMongoFlightRepo(ctx, mongoClient.Database(cfg.MongoDBDatabase))
		if err != nil {
			return fmt.Errorf("mongodb flight store initialization failed: %w", err)
		}
		flights = mongoFlights
		checks = append(checks, handler.ReadinessCheck{
			Name: "mongodb",
			Ping: func(ctx context.Context) error { return mongoClient.Ping(ctx, readpref.Primary()) },
		})
	}

	var broker *queue.RabbitMQ
	if cfg.RabbitMQURL != "" {
		queues := []string{cfg.LifecycleQueue}
		if cfg.MessagingBackend == config.MessagingRabbitMQ {
			queues = append(queues, cfg.MessagingQueue)
		}
		broker, err = queue.NewRabbitMQ(cfg.RabbitMQURL, queues...)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		defer broker.Close()
		checks = append(checks, handler.ReadinessCheck{Name: "rabbitmq", Ping: broker.Ping})
	}

	messenger, err := newMessenger(cfg, broker)
	if err != nil {
		return fmt.Errorf("messaging initialization failed: %w", err)
	}

	gate, err := infraredis.NewSpacingGate(rdb, cfg.ProviderMinSpacing)
	if err != nil {
		return fmt.Errorf("provider spacing gate initialization failed: %w", err)
	}
	limiter := ratelimit.Chain(ratelimit.NewSpacingLimiter(cfg.ProviderMinSpacing), gate)

	aeroAPI, err := provider.NewAeroAPIClient(cfg.FlightStatusBaseURL, cfg.FlightStatusAPIKey, cfg.ProviderTimeout)
	if err != nil {
		return fmt.Errorf("flight status client initialization failed: %w", err)
	}
	statusClient, err := provider.NewRateLimitedClient(aeroAPI, limiter, cfg.ProviderTimeout, cfg.ProviderQueueTimeout, logger)
	if err != nil {
		return fmt.Errorf("flight status client initialization failed: %w", err)
	}
	statusClient.SetMetrics(metrics)

	states := repository.NewGormMonitoringRepo(db)

	dispatcher, err := service.NewDispatcher(repository.NewGormContactRepo(db), states, messenger, cfg.MessagingTimeout, logger)
	if err != nil {
		return fmt.Errorf("dispatcher initialization failed: %w", err)
	}
	dispatcher.SetMetrics(metrics)

	monitor, err := service.NewMonitor(flights, states, statusClient, dispatcher, service.MonitorConfig{
		IntervalMinutes: cfg.PollIntervalMinutes,
		TickInterval:    cfg.TickInterval,
		GracePeriod:     cfg.GracePeriod,
		Workers:         cfg.MonitorWorkers,
	}, logger)
	if err != nil {
		return fmt.Errorf("monitor initialization failed: %w", err)
	}
	monitor.SetMetrics(metrics)

	janitor, err := service.NewLedgerJanitor(states, cfg.JanitorCron, cfg.LedgerRetention, logger)
	if err != nil {
		return fmt.Errorf("ledger janitor initialization failed: %w", err)
	}
	janitor.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(transport.CorrelationID(), metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, checks...)
	if err := handler.RegisterMonitoringRoutes(app, monitor); err != nil {
		return fmt.Errorf("route registration failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return monitor.Start(gctx)
	})
	g.Go(func() error {
		return janitor.Start(gctx)
	})

	if broker != nil {
		consumer := queue.NewRabbitMQConsumer(broker, cfg.ConsumerPrefetch, logger)
		g.Go(func() error {
			defer consumer.Close() //nolint:errcheck
			return consumer.Consume(gctx, cfg.LifecycleQueue, monitor.HandleFlightEvent)
		})
	}

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("flight-watch api started",
			zap.String("addr", addr),
			zap.Int("intervalMinutes", cfg.PollIntervalMinutes),
			zap.String("messagingBackend", messenger.Name()),
			zap.String("flightStore", cfg.FlightStore),
		)
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	err = g.Wait()
	monitor.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newMessenger(cfg *config.Config, broker *queue.RabbitMQ) (messaging.Messenger, error) {
	switch cfg.MessagingBackend {
	case config.MessagingTelegram:
		return messaging.NewTelegramMessenger(cfg.TelegramToken, cfg.TelegramAPIURL, cfg.MessagingTimeout)
	case config.MessagingWebhook:
		return messaging.NewWebhookMessenger(cfg.MessagingWebhookURL, cfg.MessagingTimeout)
	case config.MessagingRabbitMQ:
		if broker == nil {
			return nil, fmt.Errorf("rabbitmq backend requires RABBITMQ_URL")
		}
		return messaging.NewBrokerMessenger(queue.NewRabbitMQPublisher(broker), cfg.MessagingQueue)
	default:
		return nil, fmt.Errorf("unsupported messaging backend %q", cfg.MessagingBackend)
	}
}
