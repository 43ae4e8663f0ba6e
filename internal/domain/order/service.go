package order

import (
	"context"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/address"
	"github.com/xenking/storefront/internal/domain/cart"
)

// Carts is the subset of cart.Service used at checkout.
type Carts interface {
	Get(ctx context.Context, userID string) (*cart.Cart, error)
	ClearAfterCheckout(ctx context.Context, ordered *cart.Cart) error
}

// AddressBook resolves saved addresses.
type AddressBook interface {
	Get(ctx context.Context, userID, id string) (*address.Address, error)
}

// PlaceOrderRequest holds the input for converting a cart into an order.
// Either AddressID or Address must be set.
type PlaceOrderRequest struct {
	UserID         string
	AddressID      string
	Address        *address.Address
	IdempotencyKey string
}

// PlaceOrderResult holds the persisted order. Warning is set when a
// post-commit step (clearing the cart) failed; the order stands regardless.
type PlaceOrderResult struct {
	Order    *Order
	Replayed bool
	Warning  string
}

// UpdateStatusRequest holds the input for an administrative status change.
type UpdateStatusRequest struct {
	OrderID string
	Status  string
	IsAdmin bool
}

// Option configures a Service.
type Option func(*Service)

// WithIdempotency enables Idempotency-Key deduplication of PlaceOrder.
func WithIdempotency(store IdempotencyStore) Option {
	return func(s *Service) { s.idem = store }
}

// WithPublisher sets the order event publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithMeterProvider enables checkout metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter("github.com/xenking/storefront/internal/domain/order") }
}

// Service is the checkout orchestrator and order state machine.
type Service struct {
	carts     Carts
	addresses AddressBook
	orders    Repository
	idem      IdempotencyStore
	events    Publisher
	now       func() time.Time

	meter  metric.Meter
	placed metric.Int64Counter
}

// NewService creates an order Service.
func NewService(carts Carts, addresses AddressBook, orders Repository, opts ...Option) (*Service, error) {
	s := &Service{
		carts:     carts,
		addresses: addresses,
		orders:    orders,
		events:    nopPublisher{},
		now:       time.Now,
		meter:     noop.NewMeterProvider().Meter(""),
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	if s.placed, err = s.meter.Int64Counter("storefront.orders.placed",
		metric.WithDescription("Orders committed by checkout"),
	); err != nil {
		return nil, errors.Wrap(err, "placed counter")
	}
	return s, nil
}

// PlaceOrder converts the user's cart into an order. The address snapshot
// and the order are written in one transaction; clearing the cart afterwards
// is best effort.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *PlaceOrderResult, rerr error) {
	lg := zctx.From(ctx).With(zap.String("user_id", req.UserID))

	shipTo, err := s.resolveAddress(ctx, req)
	if err != nil {
		return nil, err
	}

	var placedID string
	if req.IdempotencyKey != "" && s.idem != nil {
		key := req.UserID + ":" + req.IdempotencyKey
		existing, err := s.idem.Begin(ctx, key)
		if err != nil {
			return nil, err
		}
		if existing != "" {
			o, err := s.orders.Get(ctx, existing)
			if err != nil {
				return nil, errors.Wrapf(err, "get replayed order %q", existing)
			}
			return &PlaceOrderResult{Order: o, Replayed: true}, nil
		}
		defer func() {
			ctx := context.WithoutCancel(ctx)
			if rerr != nil {
				if err := s.idem.Abort(ctx, key); err != nil {
					lg.Warn("Idempotency key abort failed", zap.Error(err))
				}
				return
			}
			if err := s.idem.Complete(ctx, key, placedID); err != nil {
				lg.Warn("Idempotency key completion failed", zap.Error(err))
			}
		}()
	}

	c, err := s.carts.Get(ctx, req.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	if c.IsEmpty() {
		return nil, ErrEmptyCart
	}
	if ids := c.Unavailable(); len(ids) > 0 {
		return nil, ErrUnavailableItems.WithFields(ids...)
	}

	o := s.newOrder(req.UserID, c, shipTo)
	if err := s.orders.Create(ctx, o); err != nil {
		if errors.Is(err, ErrIDConflict) || errors.Is(err, ErrCartAlreadyOrdered) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create order")
	}
	placedID = o.ID
	s.placed.Add(ctx, 1)

	lg = lg.With(zap.String("order_id", o.ID))
	lg.Info("Order placed",
		zap.String("number", o.Number),
		zap.String("grand_total", o.GrandTotal.StringFixed(2)),
	)

	res := &PlaceOrderResult{Order: o}
	if err := s.carts.ClearAfterCheckout(ctx, c); err != nil {
		lg.Warn("Cart clear after checkout failed", zap.Error(err))
		res.Warning = "order placed but the cart could not be cleared"
	}
	s.publish(ctx, Event{Type: EventPlaced, Order: o, At: o.CreatedAt})
	return res, nil
}

func (s *Service) resolveAddress(ctx context.Context, req PlaceOrderRequest) (address.Address, error) {
	switch {
	case req.AddressID != "":
		a, err := s.addresses.Get(ctx, req.UserID, req.AddressID)
		if err != nil {
			if errors.Is(err, address.ErrNotFound) {
				return address.Address{}, err
			}
			return address.Address{}, errors.Wrap(err, "get address")
		}
		return a.Snapshot(), nil
	case req.Address != nil:
		if err := req.Address.Validate(); err != nil {
			return address.Address{}, err
		}
		return req.Address.Snapshot(), nil
	default:
		return address.Address{}, address.ErrInvalid.WithMessage("shipping address is required").WithFields("address")
	}
}

func (s *Service) newOrder(userID string, c *cart.Cart, shipTo address.Address) *Order {
	now := s.now()
	lines := make([]Line, len(c.Lines))
	for i, l := range c.Lines {
		lines[i] = Line{
			ProductID: l.ProductID,
			Title:     l.Title,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		}
	}
	o := &Order{
		ID:              uuid.NewString(),
		Number:          newOrderNumber(now),
		UserID:          userID,
		CartVersion:     c.Version,
		Lines:           lines,
		Subtotal:        c.Totals.Subtotal,
		Tax:             c.Totals.Tax,
		Shipping:        c.Totals.Shipping,
		ShippingMethod:  string(c.ShippingMethod),
		Discount:        c.Totals.Discount,
		GrandTotal:      c.Totals.GrandTotal,
		PaymentMethod:   PaymentCashOnDelivery,
		ShippingAddress: shipTo,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if c.Coupon != nil {
		o.CouponCode = c.Coupon.Code
	}
	return o
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// newOrderNumber returns a human-facing number such as O#1718450000000k3x.
func newOrderNumber(now time.Time) string {
	b := []byte("O#" + strconv.FormatInt(now.UnixMilli(), 10))
	for range 3 {
		b = append(b, base36[rand.IntN(len(base36))])
	}
	return string(b)
}

// UpdateStatus applies an administrative status change through the state
// machine. The write is conditional on the status read, so two concurrent
// changes from the same state cannot both succeed.
func (s *Service) UpdateStatus(ctx context.Context, req UpdateStatusRequest) (*Order, error) {
	if !req.IsAdmin {
		return nil, domain.ErrForbidden.WithMessage("only administrators can change order status")
	}
	next, err := ParseStatus(req.Status)
	if err != nil {
		return nil, err
	}

	o, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "get order %q", req.OrderID)
	}

	from := o.Status
	if !from.CanTransitionTo(next) {
		return nil, ErrInvalidTransition.WithMessage("cannot change order status from " + string(from) + " to " + string(next))
	}

	now := s.now()
	ok, err := s.orders.UpdateStatus(ctx, o.ID, from, next, now)
	if err != nil {
		return nil, errors.Wrapf(err, "update order %q status", o.ID)
	}
	if !ok {
		return nil, domain.ErrConflict.WithMessage("order status changed concurrently, reload and retry")
	}
	o.setStatus(next, now)

	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(next)),
	)
	s.publish(ctx, Event{Type: EventStatusChanged, Order: o, FromStatus: from, At: now})
	return o, nil
}

// Get returns an order visible to the requester: its owner or an admin.
// Other users get ErrNotFound.
func (s *Service) Get(ctx context.Context, orderID, userID string, isAdmin bool) (*Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "get order %q", orderID)
	}
	if !isAdmin && o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

// ListByUser returns the user's orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	list, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return list, nil
}

func (s *Service) publish(ctx context.Context, e Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Order event publish failed",
			zap.String("type", string(e.Type)),
			zap.String("order_id", e.Order.ID),
			zap.Error(err),
		)
	}
}
