// Package coupon validates promotional codes and guards their single-use
// redemption per user.
package coupon

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/pricing"
)

var (
	// ErrInvalidCode is returned for an empty coupon code.
	ErrInvalidCode = domain.NewError(domain.KindInvalidArgument, "INVALID_COUPON_CODE", "coupon code is required")
	// ErrNotFound is returned when no coupon has the given code.
	ErrNotFound = domain.NewError(domain.KindNotFound, "COUPON_NOT_FOUND", "invalid coupon code")
	// ErrExpired is returned when the coupon's expiry date has passed.
	ErrExpired = domain.NewError(domain.KindPreconditionFailed, "COUPON_EXPIRED", "coupon has expired")
	// ErrInactive is returned when the coupon has been switched off.
	ErrInactive = domain.NewError(domain.KindPreconditionFailed, "COUPON_INACTIVE", "coupon is not active")
	// ErrAlreadyUsed is returned when the user already redeemed the coupon.
	ErrAlreadyUsed = domain.NewError(domain.KindPreconditionFailed, "COUPON_ALREADY_USED", "coupon already used")
	// ErrUsageLimitReached is returned when every redemption slot is taken.
	ErrUsageLimitReached = domain.NewError(domain.KindPreconditionFailed, "COUPON_USAGE_LIMIT_REACHED", "coupon usage limit reached")
	// ErrMinimumNotMet is returned when the cart subtotal is below the coupon minimum.
	ErrMinimumNotMet = domain.NewError(domain.KindPreconditionFailed, "COUPON_MINIMUM_NOT_MET", "order minimum not met for coupon")
)

// Coupon is a promo code with per-user single-use semantics.
type Coupon struct {
	Code           string
	Kind           pricing.DiscountKind
	Value          decimal.Decimal
	MinOrderAmount decimal.Decimal
	MaxDiscount    *decimal.Decimal
	ExpiresAt      time.Time
	UsageLimit     int
	RedeemedBy     []string
	Active         bool
	Description    string
}

// IsValid reports whether the coupon is active and not expired at now.
func (c *Coupon) IsValid(now time.Time) bool {
	return c.Active && !now.After(c.ExpiresAt)
}

// RedeemedByUser reports whether userID holds a redemption.
func (c *Coupon) RedeemedByUser(userID string) bool {
	return slices.Contains(c.RedeemedBy, userID)
}

// Terms returns the pricing view of the coupon.
func (c *Coupon) Terms() pricing.Discount {
	return pricing.Discount{
		Kind:           c.Kind,
		Value:          c.Value,
		MaxDiscount:    c.MaxDiscount,
		MinOrderAmount: c.MinOrderAmount,
	}
}

// Check returns the first eligibility failure for userID at now, ignoring the
// order minimum.
func (c *Coupon) Check(userID string, now time.Time) error {
	switch {
	case now.After(c.ExpiresAt):
		return ErrExpired
	case !c.Active:
		return ErrInactive
	case c.RedeemedByUser(userID):
		return ErrAlreadyUsed
	case len(c.RedeemedBy) >= c.UsageLimit:
		return ErrUsageLimitReached
	}
	return nil
}

// NormalizeCode canonicalises user input to the stored upper-case form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository stores coupons and performs the atomic redemption bookkeeping.
type Repository interface {
	// FindByCode returns ErrNotFound when no coupon matches.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// ListAvailable returns active coupons not expired at now.
	ListAvailable(ctx context.Context, now time.Time) ([]Coupon, error)
	// Reserve appends userID to the redemption set in a single conditional
	// write that re-checks activity, expiry, membership and the usage limit.
	// It reports false when the condition did not hold.
	Reserve(ctx context.Context, code, userID string, now time.Time) (bool, error)
	// Release removes userID from the redemption set. Absent users are a no-op.
	Release(ctx context.Context, code, userID string) error
	// Upsert creates or replaces the coupon terms, keeping redemptions.
	Upsert(ctx context.Context, c *Coupon) error
}
