package httpapi_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/confirmation"
	"github.com/vladislavdragonenkov/checkout/internal/service/httpapi"
	"github.com/vladislavdragonenkov/checkout/internal/service/inventory"
	"github.com/vladislavdragonenkov/checkout/internal/service/provider"
	"github.com/vladislavdragonenkov/checkout/internal/service/webhook"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

const testSecret = "whsec_test"

type testEnv struct {
	handler  http.Handler
	products domain.ProductRepository
	orders   domain.OrderRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := log.New()
	logger.SetOutput(io.Discard)
	entry := log.NewEntry(logger)

	orders := memory.NewOrderRepository()
	products := memory.NewProductRepository()
	outboxRepo := memory.NewOutboxRepository()
	timelineRepo := memory.NewTimelineRepository()

	adjuster := inventory.NewAdjuster(products, entry, nil)
	initiator := checkout.NewInitiator(orders, products, provider.NewMockProvider(), outboxRepo, timelineRepo, entry, nil)
	coordinator := confirmation.NewCoordinator(orders, adjuster, outboxRepo, timelineRepo, entry, nil)
	api := httpapi.NewServer(initiator, coordinator, orders, timelineRepo, webhook.NewVerifier(testSecret), entry, nil)

	require.NoError(t, products.Create(domain.Product{ID: "product-1", Name: "widget", PriceMinor: 100, Stock: 10}))

	return &testEnv{handler: api.Handler(), products: products, orders: orders}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

type checkoutResult struct {
	Order struct {
		ID            string `json:"id"`
		BuyerID       string `json:"buyer_id"`
		PaymentStatus string `json:"payment_status"`
		AmountMinor   int64  `json:"amount_minor"`
	} `json:"order"`
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

func (e *testEnv) startCheckout(t *testing.T, buyerID string) checkoutResult {
	t.Helper()
	body := fmt.Sprintf(`{"buyer_id":%q,"items":[{"product_id":"product-1","qty":2}]}`, buyerID)
	req := httptest.NewRequest(http.MethodPost, "/api/checkout", bytes.NewBufferString(body))
	rec := e.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result checkoutResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotEmpty(t, result.SessionID)
	return result
}

func signedWebhook(t *testing.T, eventType, sessionID string, metadata map[string]string) *http.Request {
	t.Helper()
	event := webhook.Event{
		ID:      "evt_1",
		Type:    eventType,
		Created: time.Now().Unix(),
		Data: webhook.EventData{
			SessionID:   sessionID,
			AmountMinor: 200,
			Metadata:    metadata,
		},
	}
	body, err := json.Marshal(event)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payment", bytes.NewBuffer(body))
	req.Header.Set(webhook.SignatureHeader, webhook.Sign(testSecret, time.Now(), body))
	return req
}

func TestCheckout(t *testing.T) {
	env := newTestEnv(t)

	result := env.startCheckout(t, "buyer-1")
	require.Equal(t, "pending", result.Order.PaymentStatus)
	require.Equal(t, int64(200), result.Order.AmountMinor)
	require.NotEmpty(t, result.CheckoutURL)

	// Оформление не трогает сток.
	product, err := env.products.Get("product-1")
	require.NoError(t, err)
	require.Equal(t, int32(10), product.Stock)
}

func TestCheckout_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		body string
	}{
		{"empty buyer", `{"buyer_id":"","items":[{"product_id":"product-1","qty":1}]}`},
		{"empty cart", `{"buyer_id":"buyer-1","items":[]}`},
		{"unknown product", `{"buyer_id":"buyer-1","items":[{"product_id":"missing","qty":1}]}`},
		{"too much qty", `{"buyer_id":"buyer-1","items":[{"product_id":"product-1","qty":100}]}`},
		{"not json", `{{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/checkout", bytes.NewBufferString(tc.body))
			rec := env.do(req)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestWebhook_InvalidSignatureLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t)
	result := env.startCheckout(t, "buyer-1")

	req := signedWebhook(t, webhook.EventCheckoutCompleted, result.SessionID, nil)
	req.Header.Set(webhook.SignatureHeader, "t=123,v1=deadbeef")
	rec := env.do(req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Заказ не изменился, сток не списан.
	order, err := env.orders.Get(result.Order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)

	product, err := env.products.Get("product-1")
	require.NoError(t, err)
	require.Equal(t, int32(10), product.Stock)
}

func TestWebhook_MissingSignature(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payment", bytes.NewBufferString(`{}`))
	rec := env.do(req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_CompletesOrderOnce(t *testing.T) {
	env := newTestEnv(t)
	result := env.startCheckout(t, "buyer-1")

	metadata := map[string]string{webhook.MetadataOrderID: result.Order.ID}
	rec := env.do(signedWebhook(t, webhook.EventCheckoutCompleted, result.SessionID, metadata))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	order, err := env.orders.Get(result.Order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	require.Equal(t, domain.OrderStatusProcessing, order.OrderStatus)

	product, err := env.products.Get("product-1")
	require.NoError(t, err)
	require.Equal(t, int32(8), product.Stock)

	// Повторная доставка идемпотентна: 200 и без второго списания.
	rec = env.do(signedWebhook(t, webhook.EventCheckoutCompleted, result.SessionID, metadata))
	require.Equal(t, http.StatusOK, rec.Code)

	product, err = env.products.Get("product-1")
	require.NoError(t, err)
	require.Equal(t, int32(8), product.Stock)
}

func TestWebhook_ExpiredMarksFailed(t *testing.T) {
	env := newTestEnv(t)
	result := env.startCheckout(t, "buyer-1")

	rec := env.do(signedWebhook(t, webhook.EventCheckoutExpired, result.SessionID, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	order, err := env.orders.Get(result.Order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusFailed, order.PaymentStatus)

	product, err := env.products.Get("product-1")
	require.NoError(t, err)
	require.Equal(t, int32(10), product.Stock)
}

func TestWebhook_UnknownEventTypeIsAccepted(t *testing.T) {
	env := newTestEnv(t)
	result := env.startCheckout(t, "buyer-1")

	rec := env.do(signedWebhook(t, "checkout.session.async_update", result.SessionID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestConfirm_NotFoundThenSuccess(t *testing.T) {
	env := newTestEnv(t)

	// Сессии ещё нет: клиенту предлагают повторить позже.
	req := httptest.NewRequest(http.MethodPost, "/api/orders/confirm", bytes.NewBufferString(`{"session_id":"cs_unknown"}`))
	rec := env.do(req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	result := env.startCheckout(t, "buyer-1")
	body := fmt.Sprintf(`{"session_id":%q}`, result.SessionID)
	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/orders/confirm", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var view struct {
		PaymentStatus string `json:"payment_status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "paid", view.PaymentStatus)
}

func TestGetOrder_AccessControl(t *testing.T) {
	env := newTestEnv(t)
	result := env.startCheckout(t, "buyer-1")

	// Владелец видит свой заказ.
	req := httptest.NewRequest(http.MethodGet, "/api/orders/"+result.Order.ID, nil)
	req.Header.Set("X-Buyer-ID", "buyer-1")
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Чужой заказ запрещён.
	req = httptest.NewRequest(http.MethodGet, "/api/orders/"+result.Order.ID, nil)
	req.Header.Set("X-Buyer-ID", "buyer-2")
	rec = env.do(req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Администратор видит любой заказ вместе с timeline.
	req = httptest.NewRequest(http.MethodGet, "/api/orders/"+result.Order.ID, nil)
	req.Header.Set("X-Role", "admin")
	rec = env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var details struct {
		Timeline []struct {
			Type string `json:"type"`
		} `json:"timeline"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &details))
	require.NotEmpty(t, details.Timeline)

	// Неизвестный заказ.
	req = httptest.NewRequest(http.MethodGet, "/api/orders/missing", nil)
	req.Header.Set("X-Role", "admin")
	rec = env.do(req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListOrders(t *testing.T) {
	env := newTestEnv(t)
	env.startCheckout(t, "buyer-1")
	env.startCheckout(t, "buyer-1")

	req := httptest.NewRequest(http.MethodGet, "/api/orders?buyer_id=buyer-1", nil)
	req.Header.Set("X-Buyer-ID", "buyer-1")
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Orders []json.RawMessage `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Orders, 2)

	// Чужой список запрещён без роли администратора.
	req = httptest.NewRequest(http.MethodGet, "/api/orders?buyer_id=buyer-1", nil)
	req.Header.Set("X-Buyer-ID", "buyer-2")
	rec = env.do(req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
