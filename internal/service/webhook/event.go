package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Типы событий платёжного провайдера, которые обрабатывает ядро.
const (
	// EventCheckoutCompleted — покупатель завершил оплату на hosted-странице.
	EventCheckoutCompleted = "checkout.session.completed"
	// EventCheckoutExpired — checkout-сессия истекла без оплаты.
	EventCheckoutExpired = "checkout.session.expired"
	// EventPaymentFailed — провайдер зафиксировал неуспешную попытку оплаты.
	EventPaymentFailed = "checkout.session.payment_failed"
)

// Ключи metadata, которые Checkout Initiator вкладывает в сессию
// и которые возвращаются в webhook-событии.
const (
	MetadataOrderID = "order_id"
	MetadataBuyerID = "buyer_id"
	MetadataCart    = "cart"
)

// Event — верифицированное webhook-событие провайдера.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
}

// EventData — полезная нагрузка события.
type EventData struct {
	// SessionID — идентификатор checkout-сессии; ключ идемпотентности.
	SessionID string `json:"session_id"`
	// AmountMinor — сумма сессии по данным провайдера.
	AmountMinor int64 `json:"amount_minor"`
	// Metadata — непрозрачные данные, вложенные при создании сессии.
	Metadata map[string]string `json:"metadata"`
}

// CartItem — формат позиции корзины внутри metadata. Сериализуется
// Checkout Initiator-ом при создании сессии; по нему webhook может
// восстановить заказ, если прямой привязки по session id не нашлось.
type CartItem struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	PriceMinor int64  `json:"price_minor"`
	Qty        int32  `json:"qty"`
}

var errMalformedEvent = errors.New("malformed webhook event")

// ParseEvent разбирает JSON-тело уже верифицированного запроса.
func ParseEvent(body []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	if event.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", errMalformedEvent)
	}
	if event.Data.SessionID == "" {
		return Event{}, fmt.Errorf("%w: missing session_id", errMalformedEvent)
	}
	return event, nil
}

// OccurredAt возвращает время события по данным провайдера.
func (e Event) OccurredAt() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

// OrderID возвращает идентификатор заказа из metadata, если он есть.
func (e Event) OrderID() string {
	return e.Data.Metadata[MetadataOrderID]
}

// BuyerID возвращает идентификатор покупателя из metadata.
func (e Event) BuyerID() string {
	return e.Data.Metadata[MetadataBuyerID]
}

// CartItems восстанавливает снапшот корзины из metadata.
func (e Event) CartItems() ([]domain.OrderItem, error) {
	raw, ok := e.Data.Metadata[MetadataCart]
	if !ok || raw == "" {
		return nil, fmt.Errorf("%w: missing cart metadata", errMalformedEvent)
	}

	var cart []CartItem
	if err := json.Unmarshal([]byte(raw), &cart); err != nil {
		return nil, fmt.Errorf("%w: decode cart metadata: %v", errMalformedEvent, err)
	}

	items := make([]domain.OrderItem, 0, len(cart))
	for _, it := range cart {
		items = append(items, domain.OrderItem{
			ProductID:  it.ProductID,
			Name:       it.Name,
			PriceMinor: it.PriceMinor,
			Qty:        it.Qty,
		})
	}
	return items, nil
}

// EncodeCart сериализует снапшот позиций для вложения в metadata сессии.
func EncodeCart(items []domain.OrderItem) (string, error) {
	cart := make([]CartItem, 0, len(items))
	for _, it := range items {
		cart = append(cart, CartItem{
			ProductID:  it.ProductID,
			Name:       it.Name,
			PriceMinor: it.PriceMinor,
			Qty:        it.Qty,
		})
	}
	raw, err := json.Marshal(cart)
	if err != nil {
		return "", fmt.Errorf("encode cart metadata: %w", err)
	}
	return string(raw), nil
}

// IsMalformed проверяет, относится ли ошибка к некорректному событию.
func IsMalformed(err error) bool {
	return errors.Is(err, errMalformedEvent)
}
