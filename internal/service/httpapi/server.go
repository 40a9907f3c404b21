package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/webhook"
)

// maxBodyBytes ограничивает размер тела входящих запросов.
const maxBodyBytes = 1 << 20

// Заголовки упрощённой аутентификации. Реальная аутентификация живёт
// на API gateway перед сервисом; здесь доверенные заголовки.
const (
	headerBuyerID = "X-Buyer-ID"
	headerRole    = "X-Role"

	roleAdmin = "admin"
)

// CheckoutStarter — вход оформления заказа.
type CheckoutStarter interface {
	Start(buyerID string, cart []checkout.CartLine) (domain.Order, domain.CheckoutSession, error)
}

// Confirmer — вход подтверждения оплаты с обеих сторон гонки.
type Confirmer interface {
	ConfirmFromClient(sessionID string) (domain.Order, error)
	ConfirmFromWebhook(event webhook.Event) (domain.Order, error)
	FailFromWebhook(event webhook.Event) (domain.Order, error)
}

// Server собирает HTTP-обработчики публичного API сервиса.
type Server struct {
	initiator   CheckoutStarter
	coordinator Confirmer
	orders      domain.OrderRepository
	timeline    domain.TimelineRepository
	verifier    *webhook.Verifier
	logger      *log.Entry
	metrics     *metrics.ConfirmationMetrics
}

// NewServer создаёт Server с зависимостями.
func NewServer(
	initiator CheckoutStarter,
	coordinator Confirmer,
	orders domain.OrderRepository,
	timeline domain.TimelineRepository,
	verifier *webhook.Verifier,
	logger *log.Entry,
	m *metrics.ConfirmationMetrics,
) *Server {
	if logger == nil {
		logger = log.WithField("component", "httpapi")
	}
	return &Server{
		initiator:   initiator,
		coordinator: coordinator,
		orders:      orders,
		timeline:    timeline,
		verifier:    verifier,
		logger:      logger,
		metrics:     m,
	}
}

// Handler возвращает роутер публичного API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/checkout", s.handleCheckout)
	mux.HandleFunc("POST /api/webhooks/payment", s.handleWebhook)
	mux.HandleFunc("POST /api/orders/confirm", s.handleConfirm)
	mux.HandleFunc("GET /api/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("GET /api/orders", s.handleListOrders)
	return mux
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Warn("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// checkoutStatus сопоставляет ошибку оформления HTTP-статусу.
func checkoutStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrBuyerRequired),
		errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrItemsRequired),
		errors.Is(err, domain.ErrItemProductRequired),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrItemPriceInvalid),
		errors.Is(err, domain.ErrAmountNegative),
		errors.Is(err, domain.ErrAmountMismatch),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
