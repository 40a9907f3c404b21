package domain

import "time"

// CheckoutSession — результат создания checkout-сессии у провайдера.
type CheckoutSession struct {
	// ID — уникальный идентификатор сессии, выданный провайдером.
	// Используется как ключ идемпотентности подтверждения.
	ID string
	// URL платёжной страницы, на которую перенаправляется покупатель.
	URL string
}

// SessionRequest — запрос на создание checkout-сессии.
type SessionRequest struct {
	OrderID string
	BuyerID string
	Items   []OrderItem
	// Metadata — непрозрачные для провайдера данные; возвращаются в
	// webhook-событии и позволяют восстановить заказ, если прямая
	// привязка по session id не состоялась.
	Metadata map[string]string
}

// CheckoutProvider описывает взаимодействие с платёжным провайдером.
type CheckoutProvider interface {
	// CreateSession создаёт hosted-checkout сессию под заказ.
	CreateSession(req SessionRequest) (CheckoutSession, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
