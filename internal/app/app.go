package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/cache"
	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/confirmation"
	"github.com/vladislavdragonenkov/checkout/internal/service/expiry"
	"github.com/vladislavdragonenkov/checkout/internal/service/httpapi"
	"github.com/vladislavdragonenkov/checkout/internal/service/inventory"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
	"github.com/vladislavdragonenkov/checkout/internal/service/webhook"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

// Run собирает сервис из зависимостей и работает до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	confirmationMetrics := metrics.NewConfirmationMetrics()

	var productReader checkout.ProductReader = deps.Products
	if deps.Redis != nil {
		productReader = cache.NewProductCache(
			deps.Products,
			cache.NewRedisKV(deps.Redis),
			cfg.ProductCacheTTL,
			logger.WithField("layer", "cache"),
		)
	}

	if cfg.WebhookSecret == "" {
		logger.Warn("webhook secret is empty, signatures are verified against an empty key")
	}
	verifier := webhook.NewVerifier(cfg.WebhookSecret)

	adjuster := inventory.NewAdjuster(deps.Products, logger.WithField("layer", "inventory"), confirmationMetrics)
	initiator := checkout.NewInitiator(
		deps.Orders, productReader, deps.Provider, deps.Outbox, deps.Timeline,
		logger.WithField("layer", "checkout"), confirmationMetrics,
	)
	coordinator := confirmation.NewCoordinator(
		deps.Orders, adjuster, deps.Outbox, deps.Timeline,
		logger.WithField("layer", "confirmation"), confirmationMetrics,
	)

	// Фоновые воркеры: relay outbox → Kafka (если брокер настроен)
	// и истечение зависших pending-заказов.
	if deps.Kafka != nil {
		relay := outbox.NewWorker(
			deps.Outbox,
			kafka.NewOutboxPublisher(deps.Kafka, kafka.TopicOrderEvents),
			outbox.WithLogger(logger.WithField("layer", "outbox")),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(deps.Kafka, kafka.TopicDeadLetterQueue)),
		)
		go relay.Run(ctx)
	}

	expiryWorker := expiry.NewWorker(
		deps.Orders,
		expiry.WithLogger(logger.WithField("layer", "expiry")),
		expiry.WithInterval(cfg.ExpiryInterval),
		expiry.WithTTL(cfg.PendingTTL),
	)
	go expiryWorker.Run(ctx)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.Store != nil {
		healthHandler.RegisterChecker("postgres", healthcheck.NewPingChecker("postgres", deps.Store.Ping))
	}
	if deps.Redis != nil {
		redisClient := deps.Redis
		healthHandler.RegisterChecker("redis", healthcheck.NewPingChecker("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	api := httpapi.NewServer(
		initiator, coordinator, deps.Orders, deps.Timeline, verifier,
		logger.WithField("layer", "http"), confirmationMetrics,
	)
	apiSrv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.APIAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez", addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
