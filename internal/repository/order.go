package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/dscommerce/internal/domain/order"
)

const (
	getOrderByIDSQL = `SELECT o.id, o.moment, o.status, u.id, u.name, p.moment
		FROM orders o
		JOIN users u ON u.id = o.client_id
		LEFT JOIN payments p ON p.order_id = o.id
		WHERE o.id = $1`

	listOrderItemsSQL = `SELECT oi.product_id, pr.name, pr.img_url, oi.price, oi.quantity
		FROM order_items oi
		JOIN products pr ON pr.id = oi.product_id
		WHERE oi.order_id = $1
		ORDER BY oi.product_id`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// GetByID loads an order with its client, payment and items from a single
// snapshot. Item prices are the stored purchase-time prices.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	var o order.Order

	err := pgx.BeginTxFunc(ctx, r.pool, readOnlySnapshot, func(tx pgx.Tx) error {
		var (
			status string
			paidAt *time.Time
		)
		err := tx.QueryRow(ctx, getOrderByIDSQL, id).Scan(
			&o.ID, &o.Moment, &status, &o.Client.ID, &o.Client.Name, &paidAt,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrNotFound
			}
			return fmt.Errorf("getting order %d: %w", id, err)
		}
		o.Status = order.Status(status)
		if paidAt != nil {
			o.Payment = &order.Payment{ID: o.ID, Moment: *paidAt}
		}

		rows, err := tx.Query(ctx, listOrderItemsSQL, id)
		if err != nil {
			return fmt.Errorf("listing items of order %d: %w", id, err)
		}
		o.Items, err = pgx.CollectRows(rows, scanOrderItem)
		if err != nil {
			return fmt.Errorf("listing items of order %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		item     order.Item
		quantity int32
	)
	err := row.Scan(&item.ProductID, &item.Name, &item.ImgURL, &item.Price, &quantity)
	item.Quantity = int(quantity)
	return item, err
}
