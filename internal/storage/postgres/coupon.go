package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/coupon"
)

const (
	couponColumns = `code, discount_type, value, min_order_amount, max_discount,
		expires_at, usage_limit, redeemed_by, active, description`

	findCouponSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	listAvailableCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE active AND expires_at >= $1
		ORDER BY code`

	// The WHERE clause repeats every eligibility rule so that concurrent
	// reservations are decided by the row lock, not by an earlier read.
	reserveCouponSQL = `UPDATE coupons
		SET redeemed_by = array_append(redeemed_by, $2), updated_at = now()
		WHERE code = $1
		  AND active
		  AND expires_at >= $3
		  AND NOT ($2 = ANY(redeemed_by))
		  AND cardinality(redeemed_by) < usage_limit`

	releaseCouponSQL = `UPDATE coupons
		SET redeemed_by = array_remove(redeemed_by, $2), updated_at = now()
		WHERE code = $1 AND $2 = ANY(redeemed_by)`

	upsertCouponSQL = `INSERT INTO coupons (code, discount_type, value, min_order_amount,
			max_discount, expires_at, usage_limit, active, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			min_order_amount = EXCLUDED.min_order_amount,
			max_discount = EXCLUDED.max_discount,
			expires_at = EXCLUDED.expires_at,
			usage_limit = EXCLUDED.usage_limit,
			active = EXCLUDED.active,
			description = EXCLUDED.description,
			updated_at = now()`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
// Redemptions live in the redeemed_by array and are only changed by single
// conditional UPDATE statements.
type CouponRepository struct {
	db DB
}

// NewCouponRepository returns a CouponRepository that uses db.
func NewCouponRepository(db DB) *CouponRepository {
	return &CouponRepository{db: db}
}

// FindByCode returns coupon.ErrNotFound when no coupon matches.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.db.Query(ctx, findCouponSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &c, nil
}

// ListAvailable returns active coupons not expired at now.
func (r *CouponRepository) ListAvailable(ctx context.Context, now time.Time) ([]coupon.Coupon, error) {
	rows, err := r.db.Query(ctx, listAvailableCouponsSQL, now)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// Reserve appends userID to the coupon's redemptions if it is still eligible.
func (r *CouponRepository) Reserve(ctx context.Context, code, userID string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, reserveCouponSQL, code, userID, now)
	if err != nil {
		return false, errors.Wrapf(err, "reserve coupon %q", code)
	}
	return tag.RowsAffected() == 1, nil
}

// Release removes userID from the coupon's redemptions.
func (r *CouponRepository) Release(ctx context.Context, code, userID string) error {
	if _, err := r.db.Exec(ctx, releaseCouponSQL, code, userID); err != nil {
		return errors.Wrapf(err, "release coupon %q", code)
	}
	return nil
}

// Upsert creates or replaces the coupon terms. Existing redemptions are kept.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.db.Exec(ctx, upsertCouponSQL,
		c.Code, string(c.Kind), c.Value, c.MinOrderAmount,
		c.MaxDiscount, c.ExpiresAt, c.UsageLimit, c.Active, c.Description,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert coupon %q", c.Code)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(
		&c.Code, &c.Kind, &c.Value, &c.MinOrderAmount, &c.MaxDiscount,
		&c.ExpiresAt, &c.UsageLimit, &c.RedeemedBy, &c.Active, &c.Description,
	)
	return c, err
}
