package kafka

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageAndSucceed()

	event := NewOrderEvent(EventTypeOrderPaid, "order-123", "buyer-1", "cs_test_1", "paid", 1500)

	if err := producer.PublishEvent(TopicOrderEvents, "order-123", event); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	event := NewOrderEvent(EventTypeOrderCreated, "order-123", "buyer-1", "", "pending", 1500)

	if err := producer.PublishEvent(TopicOrderEvents, "order-123", event); err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewOrderEvent(t *testing.T) {
	event := NewOrderEvent(EventTypeOrderExpired, "order-123", "buyer-1", "cs_test_2", "failed", 990)

	if event.EventType != EventTypeOrderExpired {
		t.Errorf("expected event type %s, got %s", EventTypeOrderExpired, event.EventType)
	}
	if event.OrderID != "order-123" {
		t.Errorf("expected order id order-123, got %s", event.OrderID)
	}
	if event.BuyerID != "buyer-1" {
		t.Errorf("expected buyer id buyer-1, got %s", event.BuyerID)
	}
	if event.SessionID != "cs_test_2" {
		t.Errorf("expected session id cs_test_2, got %s", event.SessionID)
	}
	if event.PaymentStatus != "failed" {
		t.Errorf("expected payment status failed, got %s", event.PaymentStatus)
	}
	if event.AmountMinor != 990 {
		t.Errorf("expected amount 990, got %d", event.AmountMinor)
	}

	if event.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}
	if time.Since(event.Timestamp) > time.Second {
		t.Error("timestamp should be close to current time")
	}
}
