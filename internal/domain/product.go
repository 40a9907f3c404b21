package domain

import "time"

// Product — запись каталога, на которую ссылаются позиции заказа.
// Каталог ведётся внешней подсистемой; здесь товар нужен для валидации
// корзины при оформлении и для списания стока после оплаты.
type Product struct {
	ID         string
	Name       string
	PriceMinor int64
	// Stock — доступный остаток. Не бывает отрицательным: списание
	// ограничено нулём на уровне хранилища.
	Stock     int32
	UpdatedAt time.Time
}
