package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
// Единственный мьютекс делает условные переходы атомарными, что
// зеркалит семантику conditional UPDATE в PostgreSQL-реализации.
type orderRepositoryInMemory struct {
	mu        sync.RWMutex
	items     map[string]domain.Order
	bySession map[string]string // session id → order id, уникальный индекс
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:     make(map[string]domain.Order),
		bySession: make(map[string]string),
	}
}

// Create сохраняет новый заказ, если ID и session id ещё не заняты.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderExists
	}
	if order.SessionID != "" {
		if _, taken := r.bySession[order.SessionID]; taken {
			return domain.ErrSessionConflict
		}
		r.bySession[order.SessionID] = order.ID
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// GetBySession возвращает заказ по payment session id.
func (r *orderRepositoryInMemory) GetBySession(sessionID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.lookupSession(sessionID)
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// ListByBuyer возвращает заказы покупателя, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByBuyer(buyerID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if order.BuyerID != buyerID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// AttachSession привязывает session id к существующему заказу.
func (r *orderRepositoryInMemory) AttachSession(orderID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if owner, taken := r.bySession[sessionID]; taken && owner != orderID {
		return domain.ErrSessionConflict
	}
	if order.SessionID != "" && order.SessionID != sessionID {
		delete(r.bySession, order.SessionID)
	}
	order.SessionID = sessionID
	order.UpdatedAt = time.Now().UTC()
	r.items[orderID] = order
	r.bySession[sessionID] = orderID
	return nil
}

// MarkPaidBySession выполняет условный переход pending → (paid, processing).
func (r *orderRepositoryInMemory) MarkPaidBySession(sessionID string) (domain.Order, bool, error) {
	return r.transition(sessionID, domain.PaymentStatusPaid, domain.OrderStatusProcessing)
}

// MarkFailedBySession выполняет условный переход pending → failed.
// Статус исполнения при этом не меняется.
func (r *orderRepositoryInMemory) MarkFailedBySession(sessionID string) (domain.Order, bool, error) {
	return r.transition(sessionID, domain.PaymentStatusFailed, "")
}

// ExpirePending переводит в failed заказы, созданные раньше before и
// всё ещё находящиеся в pending.
func (r *orderRepositoryInMemory) ExpirePending(before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	expired := 0
	for id, order := range r.items {
		if order.PaymentStatus != domain.PaymentStatusPending {
			continue
		}
		if !order.CreatedAt.Before(before) {
			continue
		}
		order.PaymentStatus = domain.PaymentStatusFailed
		order.UpdatedAt = time.Now().UTC()
		r.items[id] = order
		expired++
		if limit > 0 && expired >= limit {
			break
		}
	}

	return expired, nil
}

func (r *orderRepositoryInMemory) transition(sessionID string, payment domain.PaymentStatus, status domain.OrderStatus) (domain.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.lookupSession(sessionID)
	if !ok {
		return domain.Order{}, false, domain.ErrOrderNotFound
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		// Проигравший гонку или повторная доставка: возвращаем текущее
		// состояние без изменений.
		return cloneOrder(order), false, nil
	}

	order.PaymentStatus = payment
	if status != "" {
		order.OrderStatus = status
	}
	order.UpdatedAt = time.Now().UTC()
	r.items[order.ID] = order
	return cloneOrder(order), true, nil
}

func (r *orderRepositoryInMemory) lookupSession(sessionID string) (domain.Order, bool) {
	if sessionID == "" {
		return domain.Order{}, false
	}
	id, ok := r.bySession[sessionID]
	if !ok {
		return domain.Order{}, false
	}
	order, ok := r.items[id]
	return order, ok
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	return dst
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
