package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-placement/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const defaultPageSize = 50

// Repo persists orders in Postgres. Writes join the transaction carried by
// the context when there is one.
type Repo struct {
	DB       postgres.Beginner
	PageSize int
}

// SaveOrder inserts a PENDING_PAYMENT order. The insert is conditioned on the
// (user, order id) key not existing; a duplicate returns ErrOrderExists and
// leaves the stored order untouched.
func (r *Repo) SaveOrder(ctx context.Context, userID, orderID string, placedAt time.Time, items []OrderItem) (OrderDetails, error) {
	details := OrderDetails{
		OrderID:    orderID,
		Status:     StatusPendingPayment,
		PlacedAt:   placedAt.Unix(),
		TotalPrice: TotalPrice(items),
		Items:      items,
	}

	err := postgres.InTx(ctx, r.DB, func(ctx context.Context) error {
		db := postgres.Conn(ctx, r.DB)
		ct, err := db.Exec(ctx, `
			INSERT INTO orders(user_id, order_id, status, placed_at, total_price)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, order_id) DO NOTHING`,
			userID, orderID, string(details.Status), details.PlacedAt, details.TotalPrice,
		)
		if err != nil {
			return errors.Wrap(err, "insert order")
		}
		if ct.RowsAffected() == 0 {
			return errors.Wrapf(ErrOrderExists, "order %s", orderID)
		}

		for i, it := range items {
			if _, err := db.Exec(ctx, `
				INSERT INTO order_items(user_id, order_id, position, product_id, name, quantity, unit_price)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				userID, orderID, i, it.ProductID, it.Name, it.Quantity, it.UnitPrice,
			); err != nil {
				return errors.Wrapf(err, "insert order item %s", it.ProductID)
			}
		}
		return nil
	})
	if err != nil {
		return OrderDetails{}, err
	}
	return details, nil
}

// FindOrders scans the user's orders whose id starts with the encoded query,
// in id order, resuming after q.LastID.
func (r *Repo) FindOrders(ctx context.Context, userID string, q OrderQuery) ([]OrderSummary, error) {
	prefix, err := EncodeQuery(q)
	if err != nil {
		return nil, err
	}
	limit := r.PageSize
	if limit <= 0 {
		limit = defaultPageSize
	}

	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, `
		SELECT order_id, status, placed_at, total_price
		FROM orders
		WHERE user_id = $1 AND order_id LIKE $2 AND order_id > $3
		ORDER BY order_id
		LIMIT $4`,
		userID, prefix+"%", q.LastID, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query orders")
	}
	defer rows.Close()

	out := []OrderSummary{}
	for rows.Next() {
		var (
			s      OrderSummary
			status string
		)
		if err := rows.Scan(&s.OrderID, &status, &s.PlacedAt, &s.TotalPrice); err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		if s.Status, err = ParseStatus(status); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, errors.Wrap(rows.Err(), "iterate orders")
}

func (r *Repo) FindOrderByID(ctx context.Context, userID, orderID string) (OrderDetails, error) {
	db := postgres.Conn(ctx, r.DB)

	d := OrderDetails{OrderID: orderID}
	var status string
	err := db.QueryRow(ctx, `
		SELECT status, placed_at, total_price FROM orders
		WHERE user_id = $1 AND order_id = $2`,
		userID, orderID,
	).Scan(&status, &d.PlacedAt, &d.TotalPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return OrderDetails{}, ErrOrderNotFound
	}
	if err != nil {
		return OrderDetails{}, errors.Wrap(err, "query order")
	}
	if d.Status, err = ParseStatus(status); err != nil {
		return OrderDetails{}, err
	}

	rows, err := db.Query(ctx, `
		SELECT product_id, name, quantity, unit_price FROM order_items
		WHERE user_id = $1 AND order_id = $2
		ORDER BY position`,
		userID, orderID,
	)
	if err != nil {
		return OrderDetails{}, errors.Wrap(err, "query order items")
	}
	defer rows.Close()

	d.Items = []OrderItem{}
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ProductID, &it.Name, &it.Quantity, &it.UnitPrice); err != nil {
			return OrderDetails{}, errors.Wrap(err, "scan order item")
		}
		d.Items = append(d.Items, it)
	}
	if err := rows.Err(); err != nil {
		return OrderDetails{}, errors.Wrap(err, "iterate order items")
	}
	return d, nil
}
