package inventory

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

// Adjuster списывает сток по позициям оплаченного заказа.
//
// Вызывается координатором только для победителя условного перехода,
// поэтому at-most-once на заказ обеспечен выше и сам Adjuster
// идемпотентность не перепроверяет. Ошибки по отдельным товарам
// логируются и не прерывают обработку остальных позиций: оплата уже
// получена, и пропавший из каталога товар не должен блокировать
// подтверждение заказа.
type Adjuster struct {
	products domain.ProductRepository
	logger   *log.Entry
	metrics  *metrics.ConfirmationMetrics
}

// NewAdjuster создаёт Adjuster поверх каталожного репозитория.
func NewAdjuster(products domain.ProductRepository, logger *log.Entry, m *metrics.ConfirmationMetrics) *Adjuster {
	if logger == nil {
		logger = log.WithField("component", "inventory-adjuster")
	}
	return &Adjuster{
		products: products,
		logger:   logger,
		metrics:  m,
	}
}

// Apply выполняет stock = max(0, stock - qty) для каждой позиции заказа.
func (a *Adjuster) Apply(order domain.Order) {
	for _, item := range order.Items {
		product, err := a.products.DecrementStock(item.ProductID, item.Qty)
		if err != nil {
			a.metrics.RecordStockAdjustError()
			fields := log.Fields{
				"order_id":   order.ID,
				"product_id": item.ProductID,
				"qty":        item.Qty,
			}
			if errors.Is(err, domain.ErrProductNotFound) {
				a.logger.WithFields(fields).Warn("product missing during stock adjustment, skipping")
			} else {
				a.logger.WithError(err).WithFields(fields).Error("stock adjustment failed, skipping")
			}
			continue
		}

		a.metrics.RecordStockDecrement()
		a.logger.WithFields(log.Fields{
			"order_id":   order.ID,
			"product_id": item.ProductID,
			"qty":        item.Qty,
			"stock_left": product.Stock,
		}).Debug("stock decremented")
	}
}
