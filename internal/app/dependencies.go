package app

import (
	"context"
	"strings"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/service/provider"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
)

// Dependencies содержит все зависимости приложения.
type Dependencies struct {
	Orders   domain.OrderRepository
	Products domain.ProductRepository
	Outbox   domain.OutboxRepository
	Timeline domain.TimelineRepository
	Provider domain.CheckoutProvider
	Logger   *log.Entry

	// Store заполнен только при работе на PostgreSQL.
	Store *postgres.Store
	// Redis заполнен только при включённом кэше каталога.
	Redis *redis.Client
	// Kafka заполнен только при настроенном брокере.
	Kafka *kafka.Producer
}

// NewDependencies создаёт зависимости приложения по конфигурации.
// Хранилище выбирается по наличию DSN: PostgreSQL для production,
// in-memory для dev и тестов. Провайдер платежей — mock; реальный
// провайдер доставляет события только через подписанный webhook.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{
		Provider: provider.NewMockProvider(),
		Logger:   logger,
	}

	if cfg.PostgresDSN != "" {
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		deps.Store = store
		deps.Orders = postgres.NewOrderRepository(store)
		deps.Products = postgres.NewProductRepository(store)
		deps.Outbox = postgres.NewOutboxRepository(store)
		deps.Timeline = postgres.NewTimelineRepository(store)
		logger.Info("storage: postgres")
	} else {
		deps.Orders = memory.NewOrderRepository()
		deps.Products = memory.NewProductRepository()
		deps.Outbox = memory.NewOutboxRepository()
		deps.Timeline = memory.NewTimelineRepository()
		logger.Info("storage: in-memory")
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis is unreachable, continuing without product cache")
			_ = client.Close()
		} else {
			deps.Redis = client
			logger.WithField("addr", cfg.RedisAddr).Info("redis product cache enabled")
		}
	}

	if cfg.KafkaBrokers != "" {
		producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
		if err == nil && producer != nil {
			deps.Kafka = producer
		}
	}

	return deps, nil
}

// Close освобождает внешние подключения в обратном порядке инициализации.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	closeKafka(d.Kafka, d.Logger)
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	if brokers == "" {
		return nil, nil
	}

	brokerList := strings.Split(brokers, ",")
	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
