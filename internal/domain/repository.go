package domain

import "time"

// OrderRepository описывает требования к хранилищу заказов.
//
// Ключевая операция — условный переход статуса оплаты по session id.
// Хранилище обязано выполнять его атомарно: это единственный механизм
// разрешения гонки между webhook и клиентским подтверждением,
// application-level блокировок поверх него не предполагается.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderExists, если ID
	// уже занят, и ErrSessionConflict, если session id заказа уже
	// привязан к другому заказу (уникальное ограничение хранилища).
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(id string) (Order, error)
	// GetBySession возвращает заказ по payment session id или ErrOrderNotFound.
	GetBySession(sessionID string) (Order, error)
	// ListByBuyer возвращает заказы покупателя, новые первыми,
	// с опциональным ограничением на количество.
	ListByBuyer(buyerID string, limit int) ([]Order, error)
	// AttachSession привязывает session id к заказу в статусе pending.
	// Возвращает ErrSessionConflict, если session id уже занят.
	AttachSession(orderID, sessionID string) error
	// MarkPaidBySession атомарно выполняет переход
	// pending → (paid, processing) для заказа с данным session id.
	// Семантика: "UPDATE ... WHERE session_id = X AND payment_status = 'pending'".
	// won=true означает, что перевод выполнил именно этот вызов и только
	// он обязан списать сток. won=false с nil-ошибкой означает, что заказ
	// существует, но уже находится в терминальном статусе; возвращается
	// его текущее состояние. Если заказа с таким session id нет вовсе —
	// ErrOrderNotFound.
	MarkPaidBySession(sessionID string) (Order, bool, error)
	// MarkFailedBySession — тот же условный переход, но pending → failed.
	// Сток при этом не затрагивается.
	MarkFailedBySession(sessionID string) (Order, bool, error)
	// ExpirePending переводит в failed заказы, зависшие в pending дольше
	// порога (брошенные checkout-сессии). Возвращает количество
	// затронутых заказов; limit ограничивает размер порции.
	ExpirePending(before time.Time, limit int) (int, error)
}

// ProductRepository описывает доступ к каталожным записям,
// необходимый ядру: чтение для валидации корзины и ограниченное
// снизу списание стока.
type ProductRepository interface {
	// Create сохраняет товар (сидинг каталога и тесты).
	Create(product Product) error
	// Get возвращает товар или ErrProductNotFound.
	Get(id string) (Product, error)
	// DecrementStock атомарно уменьшает сток на qty с ограничением
	// снизу нулём: stock = max(0, stock - qty). Возвращает товар после
	// списания или ErrProductNotFound.
	DecrementStock(id string, qty int32) (Product, error)
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}
