package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/cart"
)

const (
	getCartSQL = `SELECT user_id, lines, shipping_method, coupon,
			subtotal, tax, shipping_cost, discount, grand_total,
			version, created_at, updated_at
		FROM carts WHERE user_id = $1`

	createCartSQL = `INSERT INTO carts (user_id, lines, shipping_method, coupon, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO NOTHING`

	updateCartSQL = `UPDATE carts SET
			lines = $3,
			shipping_method = $4,
			coupon = $5,
			subtotal = $6,
			tax = $7,
			shipping_cost = $8,
			discount = $9,
			grand_total = $10,
			version = version + 1,
			updated_at = $11
		WHERE user_id = $1 AND version = $2`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. Lines and
// the applied coupon are stored as JSONB; the money columns hold the totals
// from the last write and are informational only.
type CartRepository struct {
	db DB
}

// NewCartRepository returns a CartRepository that uses db.
func NewCartRepository(db DB) *CartRepository {
	return &CartRepository{db: db}
}

// Get returns cart.ErrNotFound when the user has no cart.
func (r *CartRepository) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	rows, err := r.db.Query(ctx, getCartSQL, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "get cart %q", userID)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get cart %q", userID)
	}
	return c, nil
}

// Create inserts c unless the user already has a cart.
func (r *CartRepository) Create(ctx context.Context, c *cart.Cart) error {
	lines, coupon, err := encodeCart(c)
	if err != nil {
		return err
	}
	if c.Version == 0 {
		c.Version = 1
	}
	_, err = r.db.Exec(ctx, createCartSQL,
		c.UserID, lines, string(c.ShippingMethod), coupon, c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "create cart %q", c.UserID)
	}
	return nil
}

// Update writes c if the stored version still equals c.Version.
func (r *CartRepository) Update(ctx context.Context, c *cart.Cart) error {
	lines, coupon, err := encodeCart(c)
	if err != nil {
		return err
	}
	t := c.Totals
	tag, err := r.db.Exec(ctx, updateCartSQL,
		c.UserID, c.Version,
		lines, string(c.ShippingMethod), coupon,
		t.Subtotal, t.Tax, t.Shipping, t.Discount, t.GrandTotal,
		c.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "update cart %q", c.UserID)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrVersionConflict
	}
	c.Version++
	return nil
}

// encodeCart returns the JSONB payloads. A nil coupon is stored as SQL NULL.
func encodeCart(c *cart.Cart) (lines, coupon []byte, err error) {
	ls := c.Lines
	if ls == nil {
		ls = []cart.Line{}
	}
	if lines, err = json.Marshal(ls); err != nil {
		return nil, nil, errors.Wrap(err, "encode cart lines")
	}
	if c.Coupon != nil {
		if coupon, err = json.Marshal(c.Coupon); err != nil {
			return nil, nil, errors.Wrap(err, "encode cart coupon")
		}
	}
	return lines, coupon, nil
}

func scanCart(row pgx.CollectableRow) (*cart.Cart, error) {
	var (
		c      cart.Cart
		lines  []byte
		coupon []byte
	)
	err := row.Scan(
		&c.UserID, &lines, &c.ShippingMethod, &coupon,
		&c.Totals.Subtotal, &c.Totals.Tax, &c.Totals.Shipping, &c.Totals.Discount, &c.Totals.GrandTotal,
		&c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(lines, &c.Lines); err != nil {
		return nil, errors.Wrap(err, "decode cart lines")
	}
	if len(coupon) > 0 {
		c.Coupon = new(cart.AppliedCoupon)
		if err := json.Unmarshal(coupon, c.Coupon); err != nil {
			return nil, errors.Wrap(err, "decode cart coupon")
		}
	}
	return &c, nil
}
