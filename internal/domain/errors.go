package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора покупателя.
	ErrBuyerRequired = errors.New("buyer_id is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка позиции без ссылки на товар каталога.
	ErrItemProductRequired = errors.New("item product_id is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	// На пути клиентского подтверждения это транзиентная ошибка:
	// webhook мог ещё не создать и не привязать заказ.
	ErrOrderNotFound = errors.New("order not found")
	// ErrSessionConflict сигнализирует, что заказ с таким session id уже
	// существует (нарушение уникального ограничения). Разрешается
	// повторным чтением, а не ошибкой наружу.
	ErrSessionConflict = errors.New("order with this payment session already exists")
	// ErrOrderExists возвращается при повторном создании заказа с занятым ID.
	ErrOrderExists = errors.New("order already exists")

	// ErrProductNotFound возвращается, если товар отсутствует в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock — бизнес-ошибка валидации корзины: запрошено
	// больше, чем доступно на складе.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrEmptyCart — корзина не содержит ни одной позиции.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrProviderUnavailable — провайдер не смог создать checkout-сессию;
	// пользователь может повторить попытку.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrInvalidSignature — подпись webhook не прошла проверку.
	// Никогда не ретраится, запрос отклоняется до обращения к хранилищу.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrForbidden — попытка прочитать чужой заказ без роли администратора.
	ErrForbidden = errors.New("access to order is forbidden")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsSessionConflict проверяет, является ли ошибка конфликтом уникальности session id.
func IsSessionConflict(err error) bool {
	return errors.Is(err, ErrSessionConflict)
}
