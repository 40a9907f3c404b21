package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// envelopeSchemaVersion версия схемы сообщений в checkout-топиках.
// Консьюмеры отбрасывают сообщения с незнакомой версией.
const envelopeSchemaVersion = 1

// orderEventPublisher публикует outbox-сообщения жизненного цикла заказа
// в заданный Kafka topic.
type orderEventPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) domain.OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &orderEventPublisher{
		producer: producer,
		topic:    topic,
	}
}

// eventEnvelope описывает формат сообщения в checkout.order.events.
type eventEnvelope struct {
	SchemaVersion int             `json:"schema_version"`
	MessageID     string          `json:"message_id"`
	EventType     string          `json:"event_type"`
	OrderID       string          `json:"order_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

func (p *orderEventPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	// Ключ партиционирования — id заказа, чтобы события одного заказа
	// читались консьюмерами в порядке записи.
	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	envelope := eventEnvelope{
		SchemaVersion: envelopeSchemaVersion,
		MessageID:     event.ID,
		EventType:     event.EventType,
		OrderID:       event.AggregateID,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	}

	return p.producer.PublishEvent(p.topic, key, envelope)
}

var _ domain.OutboxPublisher = (*orderEventPublisher)(nil)
