package confirmation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/webhook"
)

// StockAdjuster списывает сток по позициям оплаченного заказа.
type StockAdjuster interface {
	Apply(order domain.Order)
}

// Coordinator — машина состояний подтверждения оплаты.
//
// Оба входа — webhook провайдера и клиентский опрос после redirect —
// сходятся на одном условном переходе pending → (paid, processing)
// по session id. Переход атомарен на уровне хранилища; победитель
// определяется фактом изменения записи, и только победитель списывает
// сток. Порядок прихода вызовов не важен: проигравший видит уже
// терминальный заказ и трактует это как успешный no-op.
type Coordinator struct {
	orders   domain.OrderRepository
	adjuster StockAdjuster
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	logger   *log.Entry
	metrics  *metrics.ConfirmationMetrics
}

// NewCoordinator создаёт координатор подтверждения.
func NewCoordinator(
	orders domain.OrderRepository,
	adjuster StockAdjuster,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
	m *metrics.ConfirmationMetrics,
) *Coordinator {
	if logger == nil {
		logger = log.WithField("component", "confirmation")
	}
	return &Coordinator{
		orders:   orders,
		adjuster: adjuster,
		outbox:   outbox,
		timeline: timeline,
		logger:   logger,
		metrics:  m,
	}
}

// ConfirmFromClient обрабатывает опрос покупателя после возврата с
// платёжной страницы. ErrOrderNotFound транзиентен: webhook мог ещё
// не привязать заказ, клиент ретраит с backoff.
func (c *Coordinator) ConfirmFromClient(sessionID string) (domain.Order, error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordConfirmDuration(metrics.SourceClient, time.Since(start))
	}()

	if sessionID == "" {
		c.metrics.RecordConfirmation(metrics.SourceClient, metrics.OutcomeNotFound)
		return domain.Order{}, domain.ErrOrderNotFound
	}

	return c.confirm(sessionID, metrics.SourceClient)
}

// ConfirmFromWebhook обрабатывает верифицированное событие
// checkout.session.completed. Если заказ не найден ни по order id из
// metadata, ни по session id, заказ восстанавливается из снапшота
// корзины в metadata: webhook — система записи, и путь к paid обязан
// существовать даже при потерянной клиентской привязке.
func (c *Coordinator) ConfirmFromWebhook(event webhook.Event) (domain.Order, error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordConfirmDuration(metrics.SourceWebhook, time.Since(start))
	}()

	sessionID := event.Data.SessionID
	c.relinkSession(event)

	order, err := c.confirm(sessionID, metrics.SourceWebhook)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, domain.ErrOrderNotFound) {
		return domain.Order{}, err
	}

	if err := c.reconstructOrder(event); err != nil {
		return domain.Order{}, err
	}

	return c.confirm(sessionID, metrics.SourceWebhook)
}

// FailFromWebhook переводит pending-заказ в failed по событию об
// истёкшей сессии или неуспешной оплате. Сток не затрагивается.
// Отсутствие заказа не считается ошибкой: помечать нечего.
func (c *Coordinator) FailFromWebhook(event webhook.Event) (domain.Order, error) {
	sessionID := event.Data.SessionID

	order, won, err := c.orders.MarkFailedBySession(sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			c.logger.WithField("session_id", sessionID).Debug("failure event for unknown session, ignoring")
			return domain.Order{}, nil
		}
		return domain.Order{}, fmt.Errorf("mark failed by session: %w", err)
	}

	if !won {
		return order, nil
	}

	timelineType := domain.TimelinePaymentFailed
	eventType := kafka.EventTypeOrderPaymentFailed
	if event.Type == webhook.EventCheckoutExpired {
		timelineType = domain.TimelineSessionExpired
		eventType = kafka.EventTypeOrderExpired
	}
	c.appendTimeline(order.ID, timelineType, event.Type)
	c.enqueueOrderEvent(eventType, order)

	c.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"session_id": sessionID,
		"event":      event.Type,
	}).Info("order marked as payment failed")

	return order, nil
}

// confirm — общий для обоих входов критический участок.
func (c *Coordinator) confirm(sessionID, source string) (domain.Order, error) {
	order, won, err := c.orders.MarkPaidBySession(sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			c.metrics.RecordConfirmation(source, metrics.OutcomeNotFound)
			return domain.Order{}, domain.ErrOrderNotFound
		}
		c.metrics.RecordConfirmation(source, metrics.OutcomeError)
		return domain.Order{}, fmt.Errorf("mark paid by session: %w", err)
	}

	if !won {
		// Дубль доставки или проигрыш гонки: полноценный успех без
		// побочных эффектов.
		c.metrics.RecordConfirmation(source, metrics.OutcomeDuplicate)
		c.logger.WithFields(log.Fields{
			"order_id":   order.ID,
			"session_id": sessionID,
			"source":     source,
		}).Debug("order already confirmed, returning current state")
		return order, nil
	}

	// Победитель перехода — единственный, кто списывает сток.
	c.adjuster.Apply(order)

	c.appendTimeline(order.ID, domain.TimelineOrderPaid, source)
	c.appendTimeline(order.ID, domain.TimelineStockAdjusted, "")
	c.enqueueOrderEvent(kafka.EventTypeOrderPaid, order)
	c.metrics.RecordConfirmation(source, metrics.OutcomeWon)

	c.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"session_id": sessionID,
		"source":     source,
	}).Info("order confirmed as paid")

	return order, nil
}

// relinkSession восстанавливает привязку сессии к заказу, созданному
// Checkout Initiator-ом, если она потерялась. Order id из metadata
// приоритетнее поиска по session id.
func (c *Coordinator) relinkSession(event webhook.Event) {
	orderID := event.OrderID()
	if orderID == "" {
		return
	}

	order, err := c.orders.Get(orderID)
	if err != nil || order.SessionID != "" {
		return
	}

	if err := c.orders.AttachSession(orderID, event.Data.SessionID); err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"order_id":   orderID,
			"session_id": event.Data.SessionID,
		}).Warn("failed to relink session to order")
	}
}

// reconstructOrder создаёт pending-заказ из metadata события.
// Конфликт уникальности session id означает, что заказ параллельно
// создал кто-то другой — это успех, а не ошибка.
func (c *Coordinator) reconstructOrder(event webhook.Event) error {
	buyerID := event.BuyerID()
	items, err := event.CartItems()
	if err != nil {
		return err
	}

	var amount int64
	for _, item := range items {
		amount += int64(item.Qty) * item.PriceMinor
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:            uuid.NewString(),
		BuyerID:       buyerID,
		PaymentStatus: domain.PaymentStatusPending,
		OrderStatus:   domain.OrderStatusPending,
		AmountMinor:   amount,
		Items:         items,
		SessionID:     event.Data.SessionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return fmt.Errorf("reconstructed order is invalid: %w", errs[0])
	}

	if err := c.orders.Create(order); err != nil {
		if domain.IsSessionConflict(err) {
			return nil
		}
		return fmt.Errorf("create order from webhook metadata: %w", err)
	}

	c.metrics.RecordFallbackOrder()
	c.appendTimeline(order.ID, domain.TimelineOrderCreated, "webhook-fallback")
	c.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"session_id": order.SessionID,
	}).Info("order reconstructed from webhook metadata")

	return nil
}

func (c *Coordinator) enqueueOrderEvent(eventType kafka.EventType, order domain.Order) {
	event := kafka.NewOrderEvent(
		eventType,
		order.ID, order.BuyerID, order.SessionID,
		string(order.PaymentStatus), order.AmountMinor,
	)
	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to marshal order event")
		return
	}
	if _, err := c.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(eventType),
		Payload:       payload,
	}); err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to enqueue order event")
	}
}

func (c *Coordinator) appendTimeline(orderID, eventType, reason string) {
	if err := c.timeline.Append(domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: time.Now().UTC(),
	}); err != nil {
		c.logger.WithError(err).WithField("order_id", orderID).Warn("failed to append timeline event")
	}
}
