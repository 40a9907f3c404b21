package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Источники подтверждения для лейблов метрик.
const (
	SourceWebhook = "webhook"
	SourceClient  = "client"
)

// Исходы попытки подтверждения.
const (
	OutcomeWon       = "won"
	OutcomeDuplicate = "duplicate"
	OutcomeNotFound  = "not_found"
	OutcomeError     = "error"
)

// ConfirmationMetrics содержит метрики ядра подтверждения оплаты.
type ConfirmationMetrics struct {
	// Счётчики операций
	checkoutsStarted  prometheus.Counter
	checkoutsFailed   *prometheus.CounterVec
	confirmations     *prometheus.CounterVec
	fallbackOrders    prometheus.Counter
	webhooksRejected  prometheus.Counter
	stockDecrements   prometheus.Counter
	stockAdjustErrors prometheus.Counter

	// Гистограммы времени выполнения
	confirmDuration *prometheus.HistogramVec
}

// NewConfirmationMetrics создаёт метрики с регистрацией в default registerer.
func NewConfirmationMetrics() *ConfirmationMetrics {
	return newConfirmationMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newConfirmationMetricsWithRegisterer(registerer prometheus.Registerer) *ConfirmationMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ConfirmationMetrics{
		checkoutsStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_sessions_started_total",
			Help: "Total number of checkout sessions created",
		}),
		checkoutsFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_sessions_failed_total",
			Help: "Total number of failed checkout attempts grouped by reason",
		}, []string{"reason"}),
		confirmations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_confirmations_total",
			Help: "Total number of confirmation attempts grouped by source and outcome",
		}, []string{"source", "outcome"}),
		fallbackOrders: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_webhook_fallback_orders_total",
			Help: "Total number of orders reconstructed from webhook metadata",
		}),
		webhooksRejected: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_webhooks_rejected_total",
			Help: "Total number of webhook requests rejected by signature verification",
		}),
		stockDecrements: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_stock_decrements_total",
			Help: "Total number of per-product stock decrements applied",
		}),
		stockAdjustErrors: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_stock_adjust_errors_total",
			Help: "Total number of per-product stock adjustments that failed",
		}),
		confirmDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "checkout_confirm_duration_seconds",
			Help:    "Duration of confirmation attempts in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"source"}),
	}
}

// RecordCheckoutStarted учитывает созданную checkout-сессию.
func (m *ConfirmationMetrics) RecordCheckoutStarted() {
	if m == nil {
		return
	}
	m.checkoutsStarted.Inc()
}

// RecordCheckoutFailed учитывает неуспешное оформление.
func (m *ConfirmationMetrics) RecordCheckoutFailed(reason string) {
	if m == nil {
		return
	}
	m.checkoutsFailed.WithLabelValues(reason).Inc()
}

// RecordConfirmation учитывает попытку подтверждения.
func (m *ConfirmationMetrics) RecordConfirmation(source, outcome string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(source, outcome).Inc()
}

// RecordFallbackOrder учитывает заказ, восстановленный из metadata webhook.
func (m *ConfirmationMetrics) RecordFallbackOrder() {
	if m == nil {
		return
	}
	m.fallbackOrders.Inc()
}

// RecordWebhookRejected учитывает отклонённый по подписи webhook.
func (m *ConfirmationMetrics) RecordWebhookRejected() {
	if m == nil {
		return
	}
	m.webhooksRejected.Inc()
}

// RecordStockDecrement учитывает выполненное списание стока.
func (m *ConfirmationMetrics) RecordStockDecrement() {
	if m == nil {
		return
	}
	m.stockDecrements.Inc()
}

// RecordStockAdjustError учитывает ошибку списания по отдельному товару.
func (m *ConfirmationMetrics) RecordStockAdjustError() {
	if m == nil {
		return
	}
	m.stockAdjustErrors.Inc()
}

// RecordConfirmDuration учитывает длительность попытки подтверждения.
func (m *ConfirmationMetrics) RecordConfirmDuration(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.confirmDuration.WithLabelValues(source).Observe(d.Seconds())
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}
