package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, buyer_id, payment_status, order_status, amount_minor,
			payment_session_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		order.ID, order.BuyerID, string(order.PaymentStatus), string(order.OrderStatus),
		order.AmountMinor, nullableString(order.SessionID), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Конфликт по PK — дубль заказа, по session-индексу — гонка
			// двух создателей одной сессии.
			if order.SessionID != "" {
				return domain.ErrSessionConflict
			}
			return domain.ErrOrderExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for idx, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, name, price_minor, qty, position
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			uuid.NewString(), order.ID, item.ProductID, item.Name, item.PriceMinor, item.Qty, idx,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}

	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getWhere(ctx, `id = $1`, id)
}

func (r *orderRepository) GetBySession(sessionID string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getWhere(ctx, `payment_session_id = $1`, sessionID)
}

func (r *orderRepository) ListByBuyer(buyerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT id, buyer_id, payment_status, order_status, amount_minor,
		       COALESCE(payment_session_id, ''), created_at, updated_at
		FROM orders
		WHERE buyer_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", buyerID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, buyerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

func (r *orderRepository) AttachSession(orderID, sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_session_id = $1,
		    updated_at = $2
		WHERE id = $3
	`, sessionID, time.Now().UTC(), orderID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSessionConflict
		}
		return fmt.Errorf("attach session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}

	return nil
}

// MarkPaidBySession — единственная критическая операция подтверждения.
// Условный UPDATE с предикатом по session id и pending-статусу выполняется
// в БД атомарно; RowsAffected определяет победителя гонки.
func (r *orderRepository) MarkPaidBySession(sessionID string) (domain.Order, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = 'paid',
		    order_status = 'processing',
		    updated_at = $1
		WHERE payment_session_id = $2
		  AND payment_status = 'pending'
	`, time.Now().UTC(), sessionID)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("mark paid by session: %w", err)
	}

	return r.transitionResult(ctx, sessionID, res)
}

// MarkFailedBySession — тот же условный переход в failed; статус
// исполнения не трогаем.
func (r *orderRepository) MarkFailedBySession(sessionID string) (domain.Order, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = 'failed',
		    updated_at = $1
		WHERE payment_session_id = $2
		  AND payment_status = 'pending'
	`, time.Now().UTC(), sessionID)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("mark failed by session: %w", err)
	}

	return r.transitionResult(ctx, sessionID, res)
}

func (r *orderRepository) ExpirePending(before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = 'failed',
		    updated_at = NOW()
		WHERE id IN (
			SELECT id FROM orders
			WHERE payment_status = 'pending'
			  AND created_at < $1
			ORDER BY created_at
			LIMIT $2
		)
	`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("expire pending orders: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return int(affected), nil
}

func (r *orderRepository) transitionResult(ctx context.Context, sessionID string, res sql.Result) (domain.Order, bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("rows affected: %w", err)
	}

	order, err := r.getWhere(ctx, `payment_session_id = $1`, sessionID)
	if err != nil {
		return domain.Order{}, false, err
	}

	return order, affected > 0, nil
}

func (r *orderRepository) getWhere(ctx context.Context, predicate string, arg any) (domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, buyer_id, payment_status, order_status, amount_minor,
		       COALESCE(payment_session_id, ''), created_at, updated_at
		FROM orders
		WHERE `+predicate, arg)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, err
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var order domain.Order
	var payment, status string
	if err := row.Scan(
		&order.ID, &order.BuyerID, &payment, &status,
		&order.AmountMinor, &order.SessionID, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("scan order row: %w", err)
	}
	order.PaymentStatus = domain.PaymentStatus(payment)
	order.OrderStatus = domain.OrderStatus(status)
	return order, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, name, price_minor, qty
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.PriceMinor, &item.Qty); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
