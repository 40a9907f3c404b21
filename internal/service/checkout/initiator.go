package checkout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/webhook"
)

// CartLine — позиция корзины на входе оформления.
type CartLine struct {
	ProductID string
	Qty       int32
}

// ProductReader — читающая часть каталога, достаточная для валидации
// корзины. Позволяет подставить кэширующий декоратор вместо
// репозитория напрямую.
type ProductReader interface {
	Get(id string) (domain.Product, error)
}

// Initiator оформляет заказ: валидирует корзину по каталогу, создаёт
// pending-заказ со снапшотом позиций и открывает checkout-сессию у
// провайдера. Сток при оформлении не резервируется: брошенная сессия
// не должна удерживать остатки, списание происходит только после
// подтверждённой оплаты.
type Initiator struct {
	orders   domain.OrderRepository
	products ProductReader
	provider domain.CheckoutProvider
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	logger   *log.Entry
	metrics  *metrics.ConfirmationMetrics
}

// NewInitiator создаёт Initiator с зависимостями.
func NewInitiator(
	orders domain.OrderRepository,
	products ProductReader,
	provider domain.CheckoutProvider,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
	m *metrics.ConfirmationMetrics,
) *Initiator {
	if logger == nil {
		logger = log.WithField("component", "checkout-initiator")
	}
	return &Initiator{
		orders:   orders,
		products: products,
		provider: provider,
		outbox:   outbox,
		timeline: timeline,
		logger:   logger,
		metrics:  m,
	}
}

// Start выполняет оформление и возвращает созданный заказ вместе с
// checkout-сессией провайдера.
func (s *Initiator) Start(buyerID string, cart []CartLine) (domain.Order, domain.CheckoutSession, error) {
	if buyerID == "" {
		s.metrics.RecordCheckoutFailed("validation")
		return domain.Order{}, domain.CheckoutSession{}, domain.ErrBuyerRequired
	}
	if len(cart) == 0 {
		s.metrics.RecordCheckoutFailed("validation")
		return domain.Order{}, domain.CheckoutSession{}, domain.ErrEmptyCart
	}

	items, amount, err := s.snapshotCart(cart)
	if err != nil {
		s.metrics.RecordCheckoutFailed("validation")
		return domain.Order{}, domain.CheckoutSession{}, err
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:            uuid.NewString(),
		BuyerID:       buyerID,
		PaymentStatus: domain.PaymentStatusPending,
		OrderStatus:   domain.OrderStatusPending,
		AmountMinor:   amount,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		s.metrics.RecordCheckoutFailed("validation")
		return domain.Order{}, domain.CheckoutSession{}, errs[0]
	}

	if err := s.orders.Create(order); err != nil {
		s.metrics.RecordCheckoutFailed("store")
		return domain.Order{}, domain.CheckoutSession{}, fmt.Errorf("create order: %w", err)
	}
	s.appendTimeline(order.ID, domain.TimelineOrderCreated, "")

	session, err := s.createSession(order)
	if err != nil {
		s.metrics.RecordCheckoutFailed("provider")
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("checkout session creation failed")
		// Заказ остаётся pending и будет добран expiry-воркером;
		// покупателю возвращаем retryable-ошибку провайдера.
		return domain.Order{}, domain.CheckoutSession{}, domain.ErrProviderUnavailable
	}

	if err := s.orders.AttachSession(order.ID, session.ID); err != nil {
		if domain.IsSessionConflict(err) {
			// Сессия уже привязана к другому заказу: разрешаем чтением,
			// а не ошибкой.
			existing, getErr := s.orders.GetBySession(session.ID)
			if getErr == nil {
				return existing, session, nil
			}
		}
		s.metrics.RecordCheckoutFailed("store")
		return domain.Order{}, domain.CheckoutSession{}, fmt.Errorf("attach session: %w", err)
	}
	order.SessionID = session.ID
	s.appendTimeline(order.ID, domain.TimelineSessionLinked, session.ID)

	s.enqueueCreatedEvent(order)
	s.metrics.RecordCheckoutStarted()

	s.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"buyer_id":   order.BuyerID,
		"session_id": session.ID,
		"amount":     order.AmountMinor,
	}).Info("checkout session created")

	return order, session, nil
}

// snapshotCart валидирует корзину и фиксирует цены и названия на
// момент оформления.
func (s *Initiator) snapshotCart(cart []CartLine) ([]domain.OrderItem, int64, error) {
	items := make([]domain.OrderItem, 0, len(cart))
	var amount int64

	for _, line := range cart {
		if line.ProductID == "" {
			return nil, 0, domain.ErrItemProductRequired
		}
		if line.Qty <= 0 {
			return nil, 0, domain.ErrItemQtyInvalid
		}

		product, err := s.products.Get(line.ProductID)
		if err != nil {
			return nil, 0, err
		}
		if product.Stock < line.Qty {
			return nil, 0, fmt.Errorf("%w: product %s has %d, requested %d",
				domain.ErrInsufficientStock, product.ID, product.Stock, line.Qty)
		}

		items = append(items, domain.OrderItem{
			ProductID:  product.ID,
			Name:       product.Name,
			PriceMinor: product.PriceMinor,
			Qty:        line.Qty,
		})
		amount += int64(line.Qty) * product.PriceMinor
	}

	return items, amount, nil
}

func (s *Initiator) createSession(order domain.Order) (domain.CheckoutSession, error) {
	cartMeta, err := webhook.EncodeCart(order.Items)
	if err != nil {
		return domain.CheckoutSession{}, err
	}

	return s.provider.CreateSession(domain.SessionRequest{
		OrderID: order.ID,
		BuyerID: order.BuyerID,
		Items:   order.Items,
		Metadata: map[string]string{
			webhook.MetadataOrderID: order.ID,
			webhook.MetadataBuyerID: order.BuyerID,
			webhook.MetadataCart:    cartMeta,
		},
	})
}

func (s *Initiator) enqueueCreatedEvent(order domain.Order) {
	event := kafka.NewOrderEvent(
		kafka.EventTypeOrderCreated,
		order.ID, order.BuyerID, order.SessionID,
		string(order.PaymentStatus), order.AmountMinor,
	)
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to marshal order.created event")
		return
	}
	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(kafka.EventTypeOrderCreated),
		Payload:       payload,
	}); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to enqueue order.created event")
	}
}

func (s *Initiator) appendTimeline(orderID, eventType, reason string) {
	if err := s.timeline.Append(domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: time.Now().UTC(),
	}); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to append timeline event")
	}
}
