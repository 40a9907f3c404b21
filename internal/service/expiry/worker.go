package expiry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	defaultInterval  = 1 * time.Minute
	defaultTTL       = 30 * time.Minute
	defaultBatchSize = 200
)

var (
	expiredOrders = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_expired_orders_total",
		Help: "Total number of pending orders expired by the background worker.",
	})
	expiryRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_expiry_run_duration_seconds",
		Help:    "Duration of a single expiry sweep in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	expiryRunErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_expiry_run_errors_total",
		Help: "Total number of failed expiry sweeps.",
	})
)

// WorkerOptions задаёт параметры воркера.
type WorkerOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	TTL       time.Duration
	BatchSize int
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithInterval задаёт период между проходами.
func WithInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.Interval = interval
	}
}

// WithTTL задаёт максимальный возраст pending-заказа.
func WithTTL(ttl time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.TTL = ttl
	}
}

// WithBatchSize задаёт размер порции за один проход.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// Worker переводит в failed заказы, зависшие в pending дольше TTL.
//
// Брошенные checkout-сессии не держат сток (списание происходит только
// после оплаты), поэтому воркер ничего не возвращает на склад. Гонка с
// поздним webhook безопасна: оба пути идут через условный переход из
// pending, и выигрывает ровно один.
type Worker struct {
	orders    domain.OrderRepository
	logger    *log.Entry
	interval  time.Duration
	ttl       time.Duration
	batchSize int
}

// NewWorker создаёт воркер истечения pending-заказов.
func NewWorker(orders domain.OrderRepository, options ...Option) *Worker {
	opts := WorkerOptions{
		Interval:  defaultInterval,
		TTL:       defaultTTL,
		BatchSize: defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "expiry-worker")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Worker{
		orders:    orders,
		logger:    logger,
		interval:  opts.Interval,
		ttl:       opts.TTL,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодические проходы до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.orders == nil {
		w.logger.Warn("expiry worker is disabled: order repository is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход и возвращает число истекших заказов.
func (w *Worker) RunOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	start := time.Now()
	cutoff := start.Add(-w.ttl)

	total := 0
	for {
		affected, err := w.orders.ExpirePending(cutoff, w.batchSize)
		if err != nil {
			expiryRunErrors.Inc()
			w.logger.WithError(err).Warn("expiry sweep failed")
			break
		}
		total += affected
		if affected < w.batchSize || ctx.Err() != nil {
			break
		}
	}

	expiryRunDuration.Observe(time.Since(start).Seconds())
	if total > 0 {
		expiredOrders.Add(float64(total))
		w.logger.WithFields(log.Fields{
			"expired": total,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("expired stale pending orders")
	}

	return total
}
