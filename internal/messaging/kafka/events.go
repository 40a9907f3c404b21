package kafka

import "time"

// EventType определяет тип события заказа.
type EventType string

const (
	// EventTypeOrderCreated — заказ создан, checkout-сессия открыта.
	EventTypeOrderCreated EventType = "order.created"
	// EventTypeOrderPaid — оплата подтверждена, сток списан.
	EventTypeOrderPaid EventType = "order.paid"
	// EventTypeOrderPaymentFailed — оплата не состоялась.
	EventTypeOrderPaymentFailed EventType = "order.payment_failed"
	// EventTypeOrderExpired — pending-заказ истёк без оплаты.
	EventTypeOrderExpired EventType = "order.expired"
)

// Topics для Kafka.
const (
	TopicOrderEvents     = "checkout.order.events"
	TopicDeadLetterQueue = "checkout.dlq"
)

// OrderEvent представляет событие жизненного цикла заказа.
type OrderEvent struct {
	EventType     EventType `json:"event_type"`
	OrderID       string    `json:"order_id"`
	BuyerID       string    `json:"buyer_id"`
	SessionID     string    `json:"session_id,omitempty"`
	PaymentStatus string    `json:"payment_status"`
	AmountMinor   int64     `json:"amount_minor"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewOrderEvent создает событие заказа с текущим таймстемпом.
func NewOrderEvent(eventType EventType, orderID, buyerID, sessionID, paymentStatus string, amountMinor int64) *OrderEvent {
	return &OrderEvent{
		EventType:     eventType,
		OrderID:       orderID,
		BuyerID:       buyerID,
		SessionID:     sessionID,
		PaymentStatus: paymentStatus,
		AmountMinor:   amountMinor,
		Timestamp:     time.Now().UTC(),
	}
}
