package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xenking/storefront/internal/domain/order"
)

const (
	orderColumns = `o.id, o.number, o.user_id, o.lines,
		o.subtotal, o.tax, o.shipping_cost, o.shipping_method, o.discount, o.coupon_code, o.grand_total,
		o.payment_method, o.status, o.created_at, o.updated_at,
		o.shipped_at, o.delivered_at, o.cancelled_at, o.returned_at,
		a.type, a.name, a.mobile, a.house_no, a.locality, a.street,
		a.city, a.district, a.state, a.country, a.postal_code`

	getOrderSQL = `SELECT ` + orderColumns + `
		FROM orders o JOIN order_addresses a ON a.order_id = o.id
		WHERE o.id = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + `
		FROM orders o JOIN order_addresses a ON a.order_id = o.id
		WHERE o.user_id = $1
		ORDER BY o.created_at DESC`

	// The address row goes first; its foreign key to orders is deferred to
	// commit.
	insertOrderAddressSQL = `INSERT INTO order_addresses (order_id, user_id, type, name, mobile,
			house_no, locality, street, city, district, state, country, postal_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	insertOrderSQL = `INSERT INTO orders (id, number, user_id, cart_version, lines,
			subtotal, tax, shipping_cost, shipping_method, discount, coupon_code, grand_total,
			payment_method, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	// cartVersionConstraint is the unique index over (user_id, cart_version).
	cartVersionConstraint = "orders_user_cart_version_key"

	updateOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`
)

// statusStampSQL holds the UPDATE for statuses that also record a timestamp.
var statusStampSQL = map[order.Status]string{
	order.StatusShipped:   stampSQL("shipped_at"),
	order.StatusDelivered: stampSQL("delivered_at"),
	order.StatusCancelled: stampSQL("cancelled_at"),
	order.StatusReturned:  stampSQL("returned_at"),
}

func stampSQL(column string) string {
	return `UPDATE orders SET status = $3, updated_at = $4, ` + column + ` = $4
		WHERE id = $1 AND status = $2`
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db DB
}

// NewOrderRepository returns an OrderRepository that uses db.
func NewOrderRepository(db DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create writes the shipping address snapshot and the order in one
// transaction. A second order for the same cart version yields
// order.ErrCartAlreadyOrdered; any other duplicate yields order.ErrIDConflict.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return errors.Wrap(err, "encode order lines")
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer rollback(ctx, tx)

	a := o.ShippingAddress
	if _, err := tx.Exec(ctx, insertOrderAddressSQL,
		o.ID, o.UserID, string(a.Type), a.Name, a.Mobile,
		a.HouseNo, a.Locality, a.Street, a.City, a.District, a.State, a.Country, a.PostalCode,
		o.CreatedAt,
	); err != nil {
		return orderWriteError(err, "insert order address")
	}

	if _, err := tx.Exec(ctx, insertOrderSQL,
		o.ID, o.Number, o.UserID, o.CartVersion, lines,
		o.Subtotal, o.Tax, o.Shipping, o.ShippingMethod, o.Discount, o.CouponCode, o.GrandTotal,
		o.PaymentMethod, string(o.Status), o.CreatedAt, o.UpdatedAt,
	); err != nil {
		return orderWriteError(err, "insert order")
	}

	if err := tx.Commit(ctx); err != nil {
		return orderWriteError(err, "commit")
	}
	return nil
}

func orderWriteError(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == cartVersionConstraint {
			return order.ErrCartAlreadyOrdered
		}
		return order.ErrIDConflict
	}
	return errors.Wrap(err, msg)
}

// Get returns order.ErrNotFound when absent. IDs that are not UUIDs cannot
// exist and are reported as not found without a query.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	if uuid.Validate(id) != nil {
		return nil, order.ErrNotFound
	}
	rows, err := r.db.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	return &o, nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.db.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return pgx.CollectRows(rows, scanOrder)
}

// UpdateStatus moves the order from one status to another only if it still
// holds from.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status, at time.Time) (bool, error) {
	query, ok := statusStampSQL[to]
	if !ok {
		query = updateOrderStatusSQL
	}
	tag, err := r.db.Exec(ctx, query, id, string(from), string(to), at)
	if err != nil {
		return false, errors.Wrapf(err, "update order %q status", id)
	}
	return tag.RowsAffected() == 1, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o     order.Order
		lines []byte
	)
	a := &o.ShippingAddress
	err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &lines,
		&o.Subtotal, &o.Tax, &o.Shipping, &o.ShippingMethod, &o.Discount, &o.CouponCode, &o.GrandTotal,
		&o.PaymentMethod, &o.Status, &o.CreatedAt, &o.UpdatedAt,
		&o.ShippedAt, &o.DeliveredAt, &o.CancelledAt, &o.ReturnedAt,
		&a.Type, &a.Name, &a.Mobile, &a.HouseNo, &a.Locality, &a.Street,
		&a.City, &a.District, &a.State, &a.Country, &a.PostalCode,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(lines, &o.Lines); err != nil {
		return o, errors.Wrap(err, "decode order lines")
	}
	a.UserID = o.UserID
	return o, nil
}
