package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/webhook"
)

type checkoutRequest struct {
	BuyerID string `json:"buyer_id"`
	Items   []struct {
		ProductID string `json:"product_id"`
		Qty       int32  `json:"qty"`
	} `json:"items"`
}

type checkoutResponse struct {
	Order       orderView `json:"order"`
	SessionID   string    `json:"session_id"`
	CheckoutURL string    `json:"checkout_url"`
}

type orderView struct {
	ID            string          `json:"id"`
	BuyerID       string          `json:"buyer_id"`
	PaymentStatus string          `json:"payment_status"`
	OrderStatus   string          `json:"order_status"`
	AmountMinor   int64           `json:"amount_minor"`
	Items         []orderItemView `json:"items"`
	SessionID     string          `json:"session_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type orderItemView struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	PriceMinor int64  `json:"price_minor"`
	Qty        int32  `json:"qty"`
}

type timelineEventView struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred_at"`
}

func toOrderView(order domain.Order) orderView {
	items := make([]orderItemView, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemView{
			ProductID:  item.ProductID,
			Name:       item.Name,
			PriceMinor: item.PriceMinor,
			Qty:        item.Qty,
		})
	}
	return orderView{
		ID:            order.ID,
		BuyerID:       order.BuyerID,
		PaymentStatus: string(order.PaymentStatus),
		OrderStatus:   string(order.OrderStatus),
		AmountMinor:   order.AmountMinor,
		Items:         items,
		SessionID:     order.SessionID,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}

// handleCheckout оформляет заказ и открывает checkout-сессию.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	cart := make([]checkout.CartLine, 0, len(req.Items))
	for _, item := range req.Items {
		cart = append(cart, checkout.CartLine{ProductID: item.ProductID, Qty: item.Qty})
	}

	order, session, err := s.initiator.Start(req.BuyerID, cart)
	if err != nil {
		status := checkoutStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.WithError(err).Error("checkout failed")
			s.writeError(w, status, errors.New("internal error"))
			return
		}
		s.writeError(w, status, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, checkoutResponse{
		Order:       toOrderView(order),
		SessionID:   session.ID,
		CheckoutURL: session.URL,
	})
}

type webhookResponse struct {
	Received bool   `json:"received"`
	OrderID  string `json:"order_id,omitempty"`
}

// handleWebhook принимает события провайдера. Подпись проверяется по
// сырому телу до какой-либо другой обработки; запрос с плохой подписью
// не оставляет следов в хранилище. Любой идемпотентный исход, включая
// дубли, отвечает 200, чтобы провайдер прекратил ретраи.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("failed to read request body"))
		return
	}

	event, err := s.verifier.Verify(body, r.Header.Get(webhook.SignatureHeader))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			s.metrics.RecordWebhookRejected()
			s.logger.WithField("remote_addr", r.RemoteAddr).Warn("webhook rejected: invalid signature")
		}
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	var order domain.Order
	switch event.Type {
	case webhook.EventCheckoutCompleted:
		order, err = s.coordinator.ConfirmFromWebhook(event)
	case webhook.EventCheckoutExpired, webhook.EventPaymentFailed:
		order, err = s.coordinator.FailFromWebhook(event)
	default:
		// Неизвестные типы событий подтверждаем, не обрабатывая:
		// провайдер может добавлять новые типы в любой момент.
		s.logger.WithField("event_type", event.Type).Debug("ignoring unknown webhook event type")
		s.writeJSON(w, http.StatusOK, webhookResponse{Received: true})
		return
	}
	if err != nil {
		if webhook.IsMalformed(err) {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		// 5xx заставит провайдера повторить доставку; обработка идемпотентна.
		s.logger.WithError(err).WithFields(log.Fields{
			"event_type": event.Type,
			"session_id": event.Data.SessionID,
		}).Error("webhook processing failed")
		s.writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}

	s.writeJSON(w, http.StatusOK, webhookResponse{Received: true, OrderID: order.ID})
}

type confirmRequest struct {
	SessionID string `json:"session_id"`
}

// handleConfirm — клиентское подтверждение после возврата с платёжной
// страницы. 404 означает, что заказ ещё не привязан к сессии; клиент
// повторяет запрос с backoff.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.SessionID == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("session_id is required"))
		return
	}

	order, err := s.coordinator.ConfirmFromClient(req.SessionID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			w.Header().Set("Retry-After", "2")
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.logger.WithError(err).WithField("session_id", req.SessionID).Error("client confirmation failed")
		s.writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}

	s.writeJSON(w, http.StatusOK, toOrderView(order))
}

type orderDetailsResponse struct {
	Order    orderView           `json:"order"`
	Timeline []timelineEventView `json:"timeline,omitempty"`
}

// handleGetOrder возвращает заказ владельцу или администратору.
// Администратор дополнительно получает timeline заказа.
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	order, err := s.orders.Get(id)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.logger.WithError(err).WithField("order_id", id).Error("order lookup failed")
		s.writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}

	isAdmin := r.Header.Get(headerRole) == roleAdmin
	if !isAdmin && r.Header.Get(headerBuyerID) != order.BuyerID {
		s.writeError(w, http.StatusForbidden, domain.ErrForbidden)
		return
	}

	resp := orderDetailsResponse{Order: toOrderView(order)}
	if isAdmin {
		events, err := s.timeline.List(order.ID)
		if err != nil {
			s.logger.WithError(err).WithField("order_id", id).Warn("timeline lookup failed")
		}
		for _, event := range events {
			resp.Timeline = append(resp.Timeline, timelineEventView{
				Type:     event.Type,
				Reason:   event.Reason,
				Occurred: event.Occurred,
			})
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

type orderListResponse struct {
	Orders []orderView `json:"orders"`
}

// handleListOrders возвращает заказы покупателя, новые первыми.
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	buyerID := r.URL.Query().Get("buyer_id")
	if buyerID == "" {
		buyerID = r.Header.Get(headerBuyerID)
	}
	if buyerID == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("buyer_id is required"))
		return
	}

	isAdmin := r.Header.Get(headerRole) == roleAdmin
	if !isAdmin && r.Header.Get(headerBuyerID) != buyerID {
		s.writeError(w, http.StatusForbidden, domain.ErrForbidden)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	orders, err := s.orders.ListByBuyer(buyerID, limit)
	if err != nil {
		s.logger.WithError(err).WithField("buyer_id", buyerID).Error("order list failed")
		s.writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}

	resp := orderListResponse{Orders: make([]orderView, 0, len(orders))}
	for _, order := range orders {
		resp.Orders = append(resp.Orders, toOrderView(order))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
