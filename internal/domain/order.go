package domain

import "time"

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	// PaymentStatusPending — заказ создан, оплата ещё не подтверждена провайдером.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid — оплата подтверждена; терминальный статус.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed — оплата не состоялась (отказ или истечение сессии); терминальный статус.
	PaymentStatusFailed PaymentStatus = "failed"
)

// OrderStatus описывает состояние исполнения заказа. Имеет смысл
// только после перехода оплаты в paid.
type OrderStatus string

const (
	// OrderStatusPending — заказ ожидает подтверждения оплаты.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing — оплата подтверждена, заказ передан в обработку.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ отгружен.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ доставлен покупателю.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён административно.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderItem — снапшот позиции корзины на момент оформления.
// Название и цена фиксируются при создании заказа и больше
// не перечитываются из каталога.
type OrderItem struct {
	// ProductID — внешний идентификатор товара в каталоге.
	ProductID string
	// Name — название товара на момент оформления.
	Name string
	// PriceMinor — цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	// Qty — количество единиц товара.
	Qty int32
}

// Order агрегирует состояние заказа: снапшот корзины, статусы оплаты
// и исполнения и ключ идемпотентности (payment session id).
type Order struct {
	ID            string
	BuyerID       string
	PaymentStatus PaymentStatus
	OrderStatus   OrderStatus
	AmountMinor   int64
	Items         []OrderItem
	// SessionID — идентификатор checkout-сессии провайдера. Пустой до
	// привязки сессии; после привязки глобально уникален среди заказов.
	SessionID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.BuyerID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrItemProductRequired)
		}
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.PriceMinor
	}
	if calc != o.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// PaymentTerminal сообщает, достиг ли заказ терминального статуса оплаты.
// Из paid и failed переходов назад не существует.
func (o *Order) PaymentTerminal() bool {
	return o.PaymentStatus == PaymentStatusPaid || o.PaymentStatus == PaymentStatusFailed
}
