// Package order places orders from cart snapshots and tracks their
// fulfilment status.
package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/address"
)

// PaymentCashOnDelivery is the only payment method offered.
const PaymentCashOnDelivery = "Cash on Delivery"

var (
	// ErrNotFound is returned when no order has the given ID.
	ErrNotFound = domain.NewError(domain.KindNotFound, "ORDER_NOT_FOUND", "order not found")
	// ErrEmptyCart is returned when checking out a cart without lines.
	ErrEmptyCart = domain.NewError(domain.KindInvalidArgument, "EMPTY_CART", "cart is empty")
	// ErrUnavailableItems is returned when cart lines reference missing products.
	ErrUnavailableItems = domain.NewError(domain.KindInvalidArgument, "UNAVAILABLE_ITEMS", "cart contains unavailable products")
	// ErrIDConflict is returned when the generated order identifier already
	// exists. Placing the order again is safe.
	ErrIDConflict = domain.NewError(domain.KindConflict, "ORDER_ID_CONFLICT", "order id collision, retry")
	// ErrCartAlreadyOrdered is returned when an order already exists for the
	// same cart version.
	ErrCartAlreadyOrdered = domain.NewError(domain.KindConflict, "CART_ALREADY_ORDERED", "cart has already been ordered")
	// ErrInvalidStatus is returned for a status outside the known set.
	ErrInvalidStatus = domain.NewError(domain.KindInvalidArgument, "INVALID_STATUS", "invalid order status")
	// ErrInvalidTransition is returned when the state machine forbids the change.
	ErrInvalidTransition = domain.NewError(domain.KindInvalidTransition, "INVALID_TRANSITION", "order status transition not allowed")
	// ErrCheckoutInProgress is returned when a request with the same
	// idempotency key is still being processed.
	ErrCheckoutInProgress = domain.NewError(domain.KindConflict, "CHECKOUT_IN_PROGRESS", "checkout with this idempotency key is in progress")
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusShipped    Status = "Shipped"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"
	StatusReturned   Status = "Returned"
)

// statuses maps every known status to whether it is terminal.
var statuses = map[Status]bool{
	StatusPending:    false,
	StatusProcessing: false,
	StatusShipped:    false,
	StatusDelivered:  true,
	StatusCancelled:  true,
	StatusReturned:   false,
}

// ParseStatus returns ErrInvalidStatus for unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := statuses[st]; !ok {
		return "", ErrInvalidStatus.WithMessage("invalid order status " + s).WithFields("status")
	}
	return st, nil
}

// Terminal reports whether no further status change is accepted.
func (s Status) Terminal() bool {
	return statuses[s]
}

// CanTransitionTo reports whether an order in s may move to next. Any known
// status is reachable until the order is Delivered or Cancelled.
func (s Status) CanTransitionTo(next Status) bool {
	if _, ok := statuses[next]; !ok {
		return false
	}
	return !s.Terminal()
}

// Line is an immutable snapshot of a purchased product.
type Line struct {
	ProductID string          `json:"productId"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Order is a placed order. Only Status and its timestamps change after
// creation.
type Order struct {
	ID              string
	Number          string
	UserID          string
	CartVersion     int64
	Lines           []Line
	Subtotal        decimal.Decimal
	Tax             decimal.Decimal
	Shipping        decimal.Decimal
	ShippingMethod  string
	Discount        decimal.Decimal
	CouponCode      string
	GrandTotal      decimal.Decimal
	PaymentMethod   string
	ShippingAddress address.Address
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	ReturnedAt      *time.Time
}

// setStatus moves the order to st and stamps the matching timestamp.
func (o *Order) setStatus(st Status, at time.Time) {
	o.Status = st
	o.UpdatedAt = at
	switch st {
	case StatusShipped:
		o.ShippedAt = &at
	case StatusDelivered:
		o.DeliveredAt = &at
	case StatusCancelled:
		o.CancelledAt = &at
	case StatusReturned:
		o.ReturnedAt = &at
	}
}

// Repository persists orders.
type Repository interface {
	// Create stores the order and its shipping address snapshot atomically.
	// A duplicate ID or number yields ErrIDConflict.
	Create(ctx context.Context, o *Order) error
	// Get returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (*Order, error)
	// ListByUser returns the user's orders, newest first.
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// UpdateStatus changes the status only if it still equals from, stamping
	// the matching timestamp. It reports whether a row changed.
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) (bool, error)
}

// IdempotencyStore deduplicates checkout requests by client-supplied key.
type IdempotencyStore interface {
	// Begin claims key. It returns the order ID of a completed checkout with
	// the same key, "" when the claim succeeded, or ErrCheckoutInProgress.
	Begin(ctx context.Context, key string) (string, error)
	// Complete records the order placed under key.
	Complete(ctx context.Context, key, orderID string) error
	// Abort frees key after a failed checkout.
	Abort(ctx context.Context, key string) error
}
