package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
)

const defaultMaxRetries = 8

// CouponGuard is the subset of coupon.Guard used by the cart.
type CouponGuard interface {
	Validate(ctx context.Context, code, userID string, totals pricing.Totals) (*coupon.Preview, error)
	Reserve(ctx context.Context, code, userID string) error
	Release(ctx context.Context, code, userID string) error
}

// Option configures a Service.
type Option func(*Service)

// WithMaxRetries bounds the optimistic read-modify-write loop.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithMeterProvider enables cart metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter("github.com/xenking/storefront/internal/domain/cart") }
}

// Service implements the cart operations.
type Service struct {
	carts      Repository
	products   product.Repository
	coupons    CouponGuard
	engine     *pricing.Engine
	maxRetries int
	now        func() time.Time

	meter     metric.Meter
	mutations metric.Int64Counter
	conflicts metric.Int64Counter
}

// NewService creates a cart Service.
func NewService(
	carts Repository,
	products product.Repository,
	coupons CouponGuard,
	engine *pricing.Engine,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		carts:      carts,
		products:   products,
		coupons:    coupons,
		engine:     engine,
		maxRetries: defaultMaxRetries,
		now:        time.Now,
		meter:      noop.NewMeterProvider().Meter(""),
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	if s.mutations, err = s.meter.Int64Counter("storefront.cart.mutations",
		metric.WithDescription("Committed cart mutations"),
	); err != nil {
		return nil, errors.Wrap(err, "mutations counter")
	}
	if s.conflicts, err = s.meter.Int64Counter("storefront.cart.version_conflicts",
		metric.WithDescription("Optimistic cart write conflicts that were retried"),
	); err != nil {
		return nil, errors.Wrap(err, "conflicts counter")
	}
	return s, nil
}

// GetOrCreate returns the user's cart, creating an empty one on first use.
// Totals are as last persisted.
func (s *Service) GetOrCreate(ctx context.Context, userID string) (*Cart, error) {
	c, err := s.carts.Get(ctx, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "get cart")
	}

	now := s.now()
	fresh := &Cart{
		UserID:         userID,
		ShippingMethod: s.engine.DefaultShipping(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.carts.Create(ctx, fresh); err != nil {
		return nil, errors.Wrap(err, "create cart")
	}
	// A concurrent creator may have won; read back whichever row exists.
	c, err = s.carts.Get(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get created cart")
	}
	return c, nil
}

// Get returns the user's cart priced against current product prices.
func (s *Service) Get(ctx context.Context, userID string) (*Cart, error) {
	c, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.price(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// AddLine adds qty units of productID, merging with an existing line.
func (s *Service) AddLine(ctx context.Context, userID, productID string, qty int) (*Cart, error) {
	if err := product.ValidateID(productID); err != nil {
		return nil, err
	}
	if qty < 1 {
		return nil, ErrInvalidQuantity.WithMessage("quantity must be at least 1").WithFields("quantity")
	}
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "get product %q", productID)
	}

	return s.mutate(ctx, "add_line", userID, true, func(c *Cart) error {
		c.addLine(productID, qty)
		return nil
	})
}

// SetLineQuantity sets the quantity of an existing line. Zero removes it.
func (s *Service) SetLineQuantity(ctx context.Context, userID, productID string, qty int) (*Cart, error) {
	if err := product.ValidateID(productID); err != nil {
		return nil, err
	}
	if qty < 0 {
		return nil, ErrInvalidQuantity.WithMessage("quantity must not be negative").WithFields("quantity")
	}
	return s.mutate(ctx, "set_quantity", userID, true, func(c *Cart) error {
		return c.setQuantity(productID, qty)
	})
}

// RemoveLine deletes the line for productID. It fails with ErrNotFound when
// the user has no cart and ErrItemNotFound when the line is absent.
func (s *Service) RemoveLine(ctx context.Context, userID, productID string) (*Cart, error) {
	if err := product.ValidateID(productID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, "remove_line", userID, false, func(c *Cart) error {
		return c.setQuantity(productID, 0)
	})
}

// SetShippingMethod selects a shipping method from the configured table.
func (s *Service) SetShippingMethod(ctx context.Context, userID string, method pricing.ShippingMethod) (*Cart, error) {
	if _, err := s.engine.ShippingCost(method); err != nil {
		return nil, ErrInvalidShipping.WithMessage("unsupported shipping method " + string(method)).WithFields("method")
	}
	return s.mutate(ctx, "set_shipping", userID, true, func(c *Cart) error {
		c.ShippingMethod = method
		return nil
	})
}

// Clear empties the cart, resets shipping and releases the applied coupon.
func (s *Service) Clear(ctx context.Context, userID string) (*Cart, error) {
	var released string
	c, err := s.mutate(ctx, "clear", userID, true, func(c *Cart) error {
		released = ""
		if c.Coupon != nil {
			released = c.Coupon.Code
		}
		c.reset(s.engine.DefaultShipping())
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.releaseQuietly(ctx, released, userID)
	return c, nil
}

// ClearAfterCheckout removes what an order took from the cart and releases
// the coupon reservation. If the cart is still at the version of ordered it
// is reset like Clear. If it changed since, only the ordered quantities are
// removed and the coupon is released only when it is still the ordered one,
// so lines added during checkout survive.
func (s *Service) ClearAfterCheckout(ctx context.Context, ordered *Cart) error {
	var released string
	_, err := s.mutate(ctx, "clear_after_checkout", ordered.UserID, false, func(c *Cart) error {
		released = ""
		if c.Version == ordered.Version {
			if c.Coupon != nil {
				released = c.Coupon.Code
			}
			c.reset(s.engine.DefaultShipping())
			return nil
		}

		c.removeOrdered(ordered.Lines)
		if c.Coupon != nil && ordered.Coupon != nil && c.Coupon.Code == ordered.Coupon.Code {
			released = c.Coupon.Code
			c.Coupon = nil
		}
		if c.IsEmpty() {
			c.reset(s.engine.DefaultShipping())
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.releaseQuietly(ctx, released, ordered.UserID)
	return nil
}

// ValidateCoupon previews code against the user's current cart.
func (s *Service) ValidateCoupon(ctx context.Context, userID, code string) (*coupon.Preview, error) {
	c, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.coupons.Validate(ctx, code, userID, c.Totals)
}

// ApplyCoupon validates code against the live cart, reserves it for the user
// and attaches it. A previously applied coupon is released once the new one
// is in place; if the cart cannot be saved the new reservation is released.
func (s *Service) ApplyCoupon(ctx context.Context, userID, code string) (*Cart, error) {
	preview, err := s.ValidateCoupon(ctx, userID, code)
	if err != nil {
		return nil, err
	}
	applied := newAppliedCoupon(preview.Coupon)

	if err := s.coupons.Reserve(ctx, applied.Code, userID); err != nil {
		return nil, err
	}

	var previous string
	c, err := s.mutate(ctx, "apply_coupon", userID, true, func(c *Cart) error {
		previous = ""
		if c.Coupon != nil && c.Coupon.Code != applied.Code {
			previous = c.Coupon.Code
		}
		c.Coupon = applied
		return nil
	})
	if err != nil {
		s.releaseQuietly(ctx, applied.Code, userID)
		return nil, err
	}
	s.releaseQuietly(ctx, previous, userID)
	return c, nil
}

// RemoveCoupon detaches the applied coupon and releases its reservation.
// Removing when no coupon is applied is a no-op.
func (s *Service) RemoveCoupon(ctx context.Context, userID string) (*Cart, error) {
	var released string
	c, err := s.mutate(ctx, "remove_coupon", userID, true, func(c *Cart) error {
		released = ""
		if c.Coupon != nil {
			released = c.Coupon.Code
		}
		c.Coupon = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.releaseQuietly(ctx, released, userID)
	return c, nil
}

func (s *Service) releaseQuietly(ctx context.Context, code, userID string) {
	if code == "" {
		return
	}
	if err := s.coupons.Release(ctx, code, userID); err != nil {
		zctx.From(ctx).Warn("Coupon release failed",
			zap.String("coupon", code),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

// mutate runs fn in an optimistic read-modify-write loop. When create is
// false a missing cart yields ErrNotFound instead of an empty cart.
func (s *Service) mutate(ctx context.Context, op, userID string, create bool, fn func(*Cart) error) (*Cart, error) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var (
			c   *Cart
			err error
		)
		if create {
			c, err = s.GetOrCreate(ctx, userID)
		} else {
			c, err = s.carts.Get(ctx, userID)
		}
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, err
			}
			return nil, errors.Wrap(err, "load cart")
		}

		if err := fn(c); err != nil {
			return nil, err
		}
		if err := s.price(ctx, c); err != nil {
			return nil, err
		}
		c.UpdatedAt = s.now()

		err = s.carts.Update(ctx, c)
		switch {
		case err == nil:
			s.mutations.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
			return c, nil
		case errors.Is(err, ErrVersionConflict):
			s.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
			zctx.From(ctx).Debug("Cart version conflict, retrying",
				zap.String("op", op),
				zap.String("user_id", userID),
				zap.Int("attempt", attempt+1),
			)
			continue
		default:
			return nil, errors.Wrap(err, "save cart")
		}
	}
	return nil, domain.ErrConflict.WithMessage("cart is being modified concurrently, retry")
}

// price fills the derived line fields and totals from live product prices.
func (s *Service) price(ctx context.Context, c *Cart) error {
	var byID map[string]product.Product
	if len(c.Lines) > 0 {
		products, err := s.products.GetByIDs(ctx, c.ProductIDs())
		if err != nil {
			return errors.Wrap(err, "get cart products")
		}
		byID = product.Index(products)
	}

	lines := make([]pricing.Line, 0, len(c.Lines))
	for i := range c.Lines {
		l := &c.Lines[i]
		p, ok := byID[l.ProductID]
		l.Available = ok
		l.Title = p.Title
		l.UnitPrice = p.Price
		l.LineTotal = p.Price.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
		lines = append(lines, pricing.Line{Quantity: l.Quantity, UnitPrice: p.Price})
	}

	if _, err := s.engine.ShippingCost(c.ShippingMethod); err != nil {
		// The table changed since the cart was saved.
		c.ShippingMethod = s.engine.DefaultShipping()
	}

	totals, err := s.engine.Compute(pricing.Input{
		Lines:    lines,
		Shipping: c.ShippingMethod,
		Discount: c.Coupon.terms(),
	})
	if err != nil {
		return errors.Wrap(err, "compute totals")
	}
	c.Totals = totals
	return nil
}
