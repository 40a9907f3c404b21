package app

import (
	"context"
	"testing"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestNewDependencies_MemoryByDefault(t *testing.T) {
	cfg := DefaultConfig()

	deps, err := NewDependencies(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("new dependencies failed: %v", err)
	}
	defer deps.Close()

	if deps.Orders == nil || deps.Products == nil || deps.Outbox == nil || deps.Timeline == nil {
		t.Fatal("all repositories must be initialized")
	}
	if deps.Provider == nil {
		t.Fatal("checkout provider must be initialized")
	}
	if deps.Store != nil {
		t.Fatal("postgres must stay disabled without DSN")
	}
	if deps.Kafka != nil {
		t.Fatal("kafka must stay disabled without brokers")
	}
	if deps.Redis != nil {
		t.Fatal("redis must stay disabled without address")
	}

	// Репозитории рабочие, а не заглушки.
	if err := deps.Products.Create(domain.Product{ID: "product-1", Name: "widget", PriceMinor: 100, Stock: 1}); err != nil {
		t.Fatalf("product create failed: %v", err)
	}
	if _, err := deps.Products.Get("product-1"); err != nil {
		t.Fatalf("product get failed: %v", err)
	}
}

func TestDependencies_CloseIsNilSafe(t *testing.T) {
	var deps *Dependencies
	deps.Close()

	deps = &Dependencies{Logger: nil}
	// Пустые подключения закрываются без паники.
	deps.Close()
}
