package checkout

import (
	"errors"
	"io"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/provider"
	"github.com/vladislavdragonenkov/checkout/internal/service/webhook"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func newTestInitiator() (*Initiator, domain.ProductRepository, *provider.MockProvider, domain.OutboxRepository) {
	products := memory.NewProductRepository()
	mock := provider.NewMockProvider()
	outboxRepo := memory.NewOutboxRepository()
	initiator := NewInitiator(
		memory.NewOrderRepository(),
		products,
		mock,
		outboxRepo,
		memory.NewTimelineRepository(),
		testLogger(),
		nil,
	)
	return initiator, products, mock, outboxRepo
}

func seedProduct(t *testing.T, products domain.ProductRepository, id string, price int64, stock int32) {
	t.Helper()
	if err := products.Create(domain.Product{ID: id, Name: "widget " + id, PriceMinor: price, Stock: stock}); err != nil {
		t.Fatalf("seed product failed: %v", err)
	}
}

func TestStart_CreatesOrderAndSession(t *testing.T) {
	initiator, products, mock, outboxRepo := newTestInitiator()
	seedProduct(t, products, "product-1", 100, 10)
	seedProduct(t, products, "product-2", 250, 3)

	order, session, err := initiator.Start("buyer-1", []CartLine{
		{ProductID: "product-1", Qty: 2},
		{ProductID: "product-2", Qty: 1},
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected pending, got %s", order.PaymentStatus)
	}
	if order.AmountMinor != 450 {
		t.Fatalf("expected amount 450, got %d", order.AmountMinor)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(order.Items))
	}
	if session.ID == "" || session.URL == "" {
		t.Fatalf("incomplete session: %+v", session)
	}
	if order.SessionID != session.ID {
		t.Fatalf("session not linked: %s != %s", order.SessionID, session.ID)
	}

	// Оформление не резервирует сток.
	product, err := products.Get("product-1")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Stock != 10 {
		t.Fatalf("stock must not change at checkout, got %d", product.Stock)
	}

	// Метаданные сессии позволяют восстановить заказ из webhook.
	req, ok := mock.LastRequest()
	if !ok {
		t.Fatal("provider was not called")
	}
	if req.Metadata[webhook.MetadataOrderID] != order.ID {
		t.Fatalf("order id missing from metadata: %+v", req.Metadata)
	}
	if req.Metadata[webhook.MetadataBuyerID] != "buyer-1" {
		t.Fatalf("buyer id missing from metadata: %+v", req.Metadata)
	}
	if req.Metadata[webhook.MetadataCart] == "" {
		t.Fatal("cart snapshot missing from metadata")
	}

	pending, err := outboxRepo.PullPending(10)
	if err != nil {
		t.Fatalf("pull outbox failed: %v", err)
	}
	if len(pending) != 1 || pending[0].EventType != "order.created" {
		t.Fatalf("expected order.created in outbox, got %+v", pending)
	}
}

func TestStart_Validation(t *testing.T) {
	initiator, products, _, _ := newTestInitiator()
	seedProduct(t, products, "product-1", 100, 1)

	cases := []struct {
		name    string
		buyerID string
		cart    []CartLine
		wantErr error
	}{
		{"empty buyer", "", []CartLine{{ProductID: "product-1", Qty: 1}}, domain.ErrBuyerRequired},
		{"empty cart", "buyer-1", nil, domain.ErrEmptyCart},
		{"missing product id", "buyer-1", []CartLine{{ProductID: "", Qty: 1}}, domain.ErrItemProductRequired},
		{"zero qty", "buyer-1", []CartLine{{ProductID: "product-1", Qty: 0}}, domain.ErrItemQtyInvalid},
		{"unknown product", "buyer-1", []CartLine{{ProductID: "missing", Qty: 1}}, domain.ErrProductNotFound},
		{"insufficient stock", "buyer-1", []CartLine{{ProductID: "product-1", Qty: 5}}, domain.ErrInsufficientStock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := initiator.Start(tc.buyerID, tc.cart); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestStart_ProviderFailure(t *testing.T) {
	initiator, products, mock, _ := newTestInitiator()
	seedProduct(t, products, "product-1", 100, 10)
	mock.CreateErr = errors.New("provider is down")

	_, _, err := initiator.Start("buyer-1", []CartLine{{ProductID: "product-1", Qty: 1}})
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}

	// Заказ остаётся pending и будет добран expiry-воркером.
	orders, listErr := initiator.orders.ListByBuyer("buyer-1", 10)
	if listErr != nil {
		t.Fatalf("list failed: %v", listErr)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if orders[0].PaymentStatus != domain.PaymentStatusPending || orders[0].SessionID != "" {
		t.Fatalf("unexpected order state: %+v", orders[0])
	}
}
