package domain

import "time"

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

// Типы событий timeline, которые пишет ядро подтверждения.
const (
	TimelineOrderCreated   = "OrderCreated"
	TimelineSessionLinked  = "PaymentSessionLinked"
	TimelineOrderPaid      = "OrderPaid"
	TimelineStockAdjusted  = "StockAdjusted"
	TimelinePaymentFailed  = "PaymentFailed"
	TimelineSessionExpired = "SessionExpired"
)
