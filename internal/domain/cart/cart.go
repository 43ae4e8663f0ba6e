// Package cart implements the per-user shopping cart aggregate. Derived money
// fields are recomputed from live product prices on every read and mutation;
// concurrent writers are serialised with an optimistic version check.
package cart

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/pricing"
)

var (
	// ErrNotFound is returned when the user has no cart yet.
	ErrNotFound = domain.NewError(domain.KindNotFound, "CART_NOT_FOUND", "cart not found")
	// ErrItemNotFound is returned when the cart has no line for the product.
	ErrItemNotFound = domain.NewError(domain.KindNotFound, "CART_ITEM_NOT_FOUND", "item not found in cart")
	// ErrInvalidQuantity is returned for a quantity outside the accepted range.
	ErrInvalidQuantity = domain.NewError(domain.KindInvalidArgument, "INVALID_QUANTITY", "invalid quantity")
	// ErrInvalidShipping is returned for a method missing from the shipping table.
	ErrInvalidShipping = domain.NewError(domain.KindInvalidArgument, "INVALID_SHIPPING_METHOD", "unsupported shipping method")
	// ErrVersionConflict is returned by Repository.Update when the stored
	// version no longer matches.
	ErrVersionConflict = domain.NewError(domain.KindConflict, "CART_VERSION_CONFLICT", "cart was modified concurrently")
)

// Line is one product in the cart. Only ProductID and Quantity are stored;
// the remaining fields are filled in when the cart is priced.
type Line struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`

	Title     string          `json:"-"`
	UnitPrice decimal.Decimal `json:"-"`
	LineTotal decimal.Decimal `json:"-"`
	Available bool            `json:"-"`
}

// AppliedCoupon is a copy of the coupon terms taken when it was applied.
type AppliedCoupon struct {
	Code           string               `json:"code"`
	Kind           pricing.DiscountKind `json:"kind"`
	Value          decimal.Decimal      `json:"value"`
	MaxDiscount    *decimal.Decimal     `json:"maxDiscount,omitempty"`
	MinOrderAmount decimal.Decimal      `json:"minOrderAmount"`
	Description    string               `json:"description,omitempty"`
}

func newAppliedCoupon(c *coupon.Coupon) *AppliedCoupon {
	return &AppliedCoupon{
		Code:           c.Code,
		Kind:           c.Kind,
		Value:          c.Value,
		MaxDiscount:    c.MaxDiscount,
		MinOrderAmount: c.MinOrderAmount,
		Description:    c.Description,
	}
}

func (a *AppliedCoupon) terms() *pricing.Discount {
	if a == nil {
		return nil
	}
	return &pricing.Discount{
		Kind:           a.Kind,
		Value:          a.Value,
		MaxDiscount:    a.MaxDiscount,
		MinOrderAmount: a.MinOrderAmount,
	}
}

// Cart is the per-user aggregate.
type Cart struct {
	UserID         string
	Lines          []Line
	ShippingMethod pricing.ShippingMethod
	Coupon         *AppliedCoupon
	Totals         pricing.Totals
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Unavailable returns the product IDs of lines whose product no longer exists.
// Only meaningful on a priced cart.
func (c *Cart) Unavailable() []string {
	var ids []string
	for _, l := range c.Lines {
		if !l.Available {
			ids = append(ids, l.ProductID)
		}
	}
	return ids
}

// ProductIDs returns the product of every line.
func (c *Cart) ProductIDs() []string {
	ids := make([]string, len(c.Lines))
	for i, l := range c.Lines {
		ids[i] = l.ProductID
	}
	return ids
}

func (c *Cart) lineIndex(productID string) int {
	return slices.IndexFunc(c.Lines, func(l Line) bool { return l.ProductID == productID })
}

// addLine merges qty into an existing line or appends a new one.
func (c *Cart) addLine(productID string, qty int) {
	if i := c.lineIndex(productID); i >= 0 {
		c.Lines[i].Quantity += qty
		return
	}
	c.Lines = append(c.Lines, Line{ProductID: productID, Quantity: qty})
}

// setQuantity sets the quantity of an existing line; zero removes it.
func (c *Cart) setQuantity(productID string, qty int) error {
	i := c.lineIndex(productID)
	if i < 0 {
		return ErrItemNotFound
	}
	if qty == 0 {
		c.Lines = slices.Delete(c.Lines, i, i+1)
		return nil
	}
	c.Lines[i].Quantity = qty
	return nil
}

// removeOrdered takes the quantities in ordered out of the cart. Lines that
// drop to zero are removed.
func (c *Cart) removeOrdered(ordered []Line) {
	for _, o := range ordered {
		i := c.lineIndex(o.ProductID)
		if i < 0 {
			continue
		}
		if c.Lines[i].Quantity -= o.Quantity; c.Lines[i].Quantity <= 0 {
			c.Lines = slices.Delete(c.Lines, i, i+1)
		}
	}
}

func (c *Cart) reset(shipping pricing.ShippingMethod) {
	c.Lines = nil
	c.ShippingMethod = shipping
	c.Coupon = nil
}

// Repository persists carts. Update must only succeed when the stored
// version equals c.Version, and must then advance c.Version.
type Repository interface {
	// Get returns ErrNotFound when the user has no cart.
	Get(ctx context.Context, userID string) (*Cart, error)
	// Create inserts c unless a cart for the user already exists, in which
	// case it does nothing.
	Create(ctx context.Context, c *Cart) error
	// Update writes c if its version is current, else ErrVersionConflict.
	Update(ctx context.Context, c *Cart) error
}
