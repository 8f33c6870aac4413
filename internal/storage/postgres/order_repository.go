package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	uniqueViolation = "23505"
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// withTx выполняет fn в транзакции; ошибка fn или commit откатывает её.
func (r *orderRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, customer_id, store_id, currency, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, order.ID, order.CustomerID, order.StoreID, order.Currency, order.CreatedAt, order.UpdatedAt)
		switch {
		case isUniqueViolation(err):
			return domain.ErrOrderExists
		case err != nil:
			return fmt.Errorf("insert order: %w", err)
		}

		for position, item := range order.Items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (id, order_id, position, status, name, sku, qty, unit_price_minor, notes)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`, item.ID, order.ID, position, string(item.Status), item.Name, item.SKU, item.Qty, item.UnitPriceMinor, item.Notes)
			switch {
			case isUniqueViolation(err):
				return domain.ErrItemIDDuplicate
			case err != nil:
				return fmt.Errorf("insert order item %d: %w", item.ID, err)
			}
		}
		return nil
	})
}

func (r *orderRepository) Get(ctx context.Context, id int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var order domain.Order
	err := r.db.QueryRowContext(ctx, `
		SELECT id, customer_id, store_id, currency, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.CustomerID, &order.StoreID, &order.Currency, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	if order.Items, err = r.loadItems(ctx, order.ID); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) List(ctx context.Context, page, limit int) (domain.OrderPage, error) {
	page, limit = domain.NormalizePage(page, limit)

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	result := domain.OrderPage{Orders: []domain.Order{}, Page: page, Limit: limit}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&result.Total); err != nil {
		return domain.OrderPage{}, fmt.Errorf("count orders: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, customer_id, store_id, currency, created_at, updated_at
		FROM orders
		ORDER BY id ASC
		LIMIT $1 OFFSET $2
	`, limit, (page-1)*limit)
	if err != nil {
		return domain.OrderPage{}, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.CustomerID, &order.StoreID, &order.Currency, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return domain.OrderPage{}, fmt.Errorf("scan order row: %w", err)
		}
		result.Orders = append(result.Orders, order)
	}
	if err := rows.Err(); err != nil {
		return domain.OrderPage{}, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range result.Orders {
		if result.Orders[i].Items, err = r.loadItems(ctx, result.Orders[i].ID); err != nil {
			return domain.OrderPage{}, err
		}
	}
	return result, nil
}

// UpdateItemStatus меняет статус позиции и возвращает её вместе с ID заказа.
// Пустые notes не затирают сохранённые.
func (r *orderRepository) UpdateItemStatus(ctx context.Context, itemID int64, status domain.ItemStatus, notes string) (domain.LineItem, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		item    domain.LineItem
		orderID int64
	)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, `
			UPDATE order_items
			SET status = $2,
			    notes = CASE WHEN $3 = '' THEN notes ELSE $3 END,
			    status_updated_at = NOW()
			WHERE id = $1
			RETURNING id, order_id, status, name, sku, qty, unit_price_minor, notes
		`, itemID, string(status), notes).Scan(
			&item.ID, &orderID, &raw, &item.Name, &item.SKU, &item.Qty, &item.UnitPriceMinor, &item.Notes,
		)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return domain.ErrItemNotFound
		case err != nil:
			return fmt.Errorf("update item status: %w", err)
		}
		item.Status = domain.ItemStatus(raw)

		if _, err := tx.ExecContext(ctx, `UPDATE orders SET updated_at = NOW() WHERE id = $1`, orderID); err != nil {
			return fmt.Errorf("touch order: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.LineItem{}, 0, err
	}
	return item, orderID, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID int64) ([]domain.LineItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, status, name, sku, qty, unit_price_minor, notes
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0)
	for rows.Next() {
		var (
			item domain.LineItem
			raw  string
		)
		if err := rows.Scan(&item.ID, &raw, &item.Name, &item.SKU, &item.Qty, &item.UnitPriceMinor, &item.Notes); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.Status = domain.ItemStatus(raw)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var _ domain.OrderRepository = (*orderRepository)(nil)
