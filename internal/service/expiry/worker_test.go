package expiry

import (
	"context"
	"io"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func seedPending(t *testing.T, orders domain.OrderRepository, id string, age time.Duration) {
	t.Helper()
	now := time.Now().UTC()
	err := orders.Create(domain.Order{
		ID:            id,
		BuyerID:       "buyer-1",
		PaymentStatus: domain.PaymentStatusPending,
		OrderStatus:   domain.OrderStatusPending,
		AmountMinor:   100,
		Items: []domain.OrderItem{
			{ProductID: "product-1", Name: "widget", PriceMinor: 100, Qty: 1},
		},
		CreatedAt: now.Add(-age),
		UpdatedAt: now.Add(-age),
	})
	if err != nil {
		t.Fatalf("seed order failed: %v", err)
	}
}

func TestRunOnce_ExpiresStalePending(t *testing.T) {
	orders := memory.NewOrderRepository()
	seedPending(t, orders, "order-old", time.Hour)
	seedPending(t, orders, "order-fresh", time.Minute)

	worker := NewWorker(orders,
		WithLogger(testLogger()),
		WithTTL(30*time.Minute),
	)

	expired := worker.RunOnce(context.Background())
	if expired != 1 {
		t.Fatalf("expected 1 expired order, got %d", expired)
	}

	old, err := orders.Get("order-old")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if old.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected failed, got %s", old.PaymentStatus)
	}

	fresh, err := orders.Get("order-fresh")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if fresh.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("fresh order must stay pending, got %s", fresh.PaymentStatus)
	}
}

func TestRunOnce_DrainsInBatches(t *testing.T) {
	orders := memory.NewOrderRepository()
	for _, id := range []string{"order-1", "order-2", "order-3"} {
		seedPending(t, orders, id, time.Hour)
	}

	worker := NewWorker(orders,
		WithLogger(testLogger()),
		WithTTL(30*time.Minute),
		WithBatchSize(1),
	)

	expired := worker.RunOnce(context.Background())
	if expired != 3 {
		t.Fatalf("expected 3 expired orders, got %d", expired)
	}
}

func TestRunOnce_CancelledContext(t *testing.T) {
	orders := memory.NewOrderRepository()
	seedPending(t, orders, "order-1", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	worker := NewWorker(orders, WithLogger(testLogger()))
	if expired := worker.RunOnce(ctx); expired != 0 {
		t.Fatalf("cancelled run must not expire anything, got %d", expired)
	}
}
