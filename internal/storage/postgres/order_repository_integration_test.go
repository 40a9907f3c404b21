package postgres

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func integrationOrder(id, sessionID string) domain.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return domain.Order{
		ID:            id,
		BuyerID:       "buyer-1",
		PaymentStatus: domain.PaymentStatusPending,
		OrderStatus:   domain.OrderStatusPending,
		AmountMinor:   300,
		Items: []domain.OrderItem{
			{ProductID: "product-1", Name: "widget", PriceMinor: 100, Qty: 3},
		},
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderRepository_PostgresCreateGet(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	order := integrationOrder("order-1", "cs_1")
	require.NoError(t, repo.Create(order))

	got, err := repo.Get("order-1")
	require.NoError(t, err)
	require.Equal(t, order.BuyerID, got.BuyerID)
	require.Equal(t, domain.PaymentStatusPending, got.PaymentStatus)
	require.Len(t, got.Items, 1)
	require.Equal(t, "cs_1", got.SessionID)

	bySession, err := repo.GetBySession("cs_1")
	require.NoError(t, err)
	require.Equal(t, "order-1", bySession.ID)

	_, err = repo.Get("missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_PostgresSessionUniqueness(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	require.NoError(t, repo.Create(integrationOrder("order-1", "cs_1")))

	err := repo.Create(integrationOrder("order-2", "cs_1"))
	require.ErrorIs(t, err, domain.ErrSessionConflict)

	// Заказ без сессии создаётся свободно; конфликт появляется при привязке.
	require.NoError(t, repo.Create(integrationOrder("order-3", "")))
	err = repo.AttachSession("order-3", "cs_1")
	require.ErrorIs(t, err, domain.ErrSessionConflict)
}

func TestOrderRepository_PostgresMarkPaidWinsOnce(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	require.NoError(t, repo.Create(integrationOrder("order-1", "cs_1")))

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, won, err := repo.MarkPaidBySession("cs_1")
			if err != nil {
				t.Errorf("mark paid failed: %v", err)
				return
			}
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, wins, "exactly one caller must win the transition")

	got, err := repo.Get("order-1")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusPaid, got.PaymentStatus)
	require.Equal(t, domain.OrderStatusProcessing, got.OrderStatus)
}

func TestOrderRepository_PostgresMarkFailed(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	require.NoError(t, repo.Create(integrationOrder("order-1", "cs_1")))

	failed, won, err := repo.MarkFailedBySession("cs_1")
	require.NoError(t, err)
	require.True(t, won)
	require.Equal(t, domain.PaymentStatusFailed, failed.PaymentStatus)
	require.Equal(t, domain.OrderStatusPending, failed.OrderStatus)

	// Терминальный failed не пускает поздний paid-переход.
	_, won, err = repo.MarkPaidBySession("cs_1")
	require.NoError(t, err)
	require.False(t, won)

	_, _, err = repo.MarkPaidBySession("cs_missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_PostgresExpirePending(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	stale := integrationOrder("order-1", "cs_1")
	stale.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, repo.Create(stale))
	require.NoError(t, repo.Create(integrationOrder("order-2", "cs_2")))

	expired, err := repo.ExpirePending(time.Now().UTC().Add(-30*time.Minute), 100)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	got, err := repo.Get("order-1")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusFailed, got.PaymentStatus)

	fresh, err := repo.Get("order-2")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusPending, fresh.PaymentStatus)
}

func TestOrderRepository_PostgresListByBuyer(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	first := integrationOrder("order-1", "")
	first.CreatedAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, repo.Create(first))
	require.NoError(t, repo.Create(integrationOrder("order-2", "")))

	orders, err := repo.ListByBuyer("buyer-1", 10)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, "order-2", orders[0].ID, "newest order must come first")

	limited, err := repo.ListByBuyer("buyer-1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}
