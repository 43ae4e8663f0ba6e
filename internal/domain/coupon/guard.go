package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/pricing"
)

// Preview is the result of validating a coupon against a cart.
type Preview struct {
	Coupon   *Coupon
	Discount decimal.Decimal
}

// Guard enforces per-user single-use coupon semantics on top of a Repository.
// All mutation goes through the repository's conditional writes, so the guard
// itself holds no state.
type Guard struct {
	repo Repository
	now  func() time.Time

	meter        metric.Meter
	reservations metric.Int64Counter
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithMeterProvider enables reservation metrics.
func WithMeterProvider(mp metric.MeterProvider) GuardOption {
	return func(g *Guard) { g.meter = mp.Meter("github.com/xenking/storefront/internal/domain/coupon") }
}

// NewGuard creates a Guard backed by repo.
func NewGuard(repo Repository, opts ...GuardOption) (*Guard, error) {
	g := &Guard{
		repo:  repo,
		now:   time.Now,
		meter: noop.NewMeterProvider().Meter(""),
	}
	for _, o := range opts {
		o(g)
	}

	var err error
	if g.reservations, err = g.meter.Int64Counter("storefront.coupon.reservations",
		metric.WithDescription("Coupon reservation attempts by result"),
	); err != nil {
		return nil, errors.Wrap(err, "reservations counter")
	}
	return g, nil
}

// Validate checks that userID may apply code to an order with the given
// totals and previews the discount. It never mutates state. Checks run in
// order: not found, expired, inactive, already used, usage limit, minimum.
func (g *Guard) Validate(ctx context.Context, code, userID string, totals pricing.Totals) (*Preview, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrInvalidCode.WithFields("code")
	}

	c, err := g.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}

	if err := c.Check(userID, g.now()); err != nil {
		return nil, err
	}
	if totals.Subtotal.LessThan(c.MinOrderAmount) {
		return nil, ErrMinimumNotMet.WithMessage("minimum order amount is " + c.MinOrderAmount.StringFixed(2))
	}

	return &Preview{
		Coupon:   c,
		Discount: pricing.DiscountAmount(c.Terms(), totals.Subtotal, totals.Tax, totals.Shipping),
	}, nil
}

// Reserve records a redemption of code for userID. When the conditional write
// does not apply, the coupon is re-read to report the precise reason.
func (g *Guard) Reserve(ctx context.Context, code, userID string) error {
	code = NormalizeCode(code)
	now := g.now()

	ok, err := g.repo.Reserve(ctx, code, userID, now)
	if err != nil {
		g.countReservation(ctx, "error")
		return errors.Wrapf(err, "reserve coupon %q", code)
	}
	if ok {
		g.countReservation(ctx, "reserved")
		return nil
	}
	g.countReservation(ctx, "rejected")

	c, err := g.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return errors.Wrapf(err, "find coupon %q", code)
	}
	if err := c.Check(userID, now); err != nil {
		return err
	}
	// A concurrent release freed the slot between the write and the read.
	return domain.ErrConflict
}

func (g *Guard) countReservation(ctx context.Context, result string) {
	g.reservations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// Release drops userID's redemption of code. Releasing a coupon the user
// never redeemed is a no-op.
func (g *Guard) Release(ctx context.Context, code, userID string) error {
	if err := g.repo.Release(ctx, NormalizeCode(code), userID); err != nil {
		return errors.Wrapf(err, "release coupon %q", code)
	}
	return nil
}

// ListAvailable returns the coupons currently open for redemption.
func (g *Guard) ListAvailable(ctx context.Context) ([]Coupon, error) {
	list, err := g.repo.ListAvailable(ctx, g.now())
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return list, nil
}
