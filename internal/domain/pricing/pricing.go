// Package pricing computes cart money totals. It is pure and deterministic:
// every amount is a shopspring decimal and rounding to two places (half away
// from zero) happens once per derived field.
package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountKind enumerates the supported coupon discount strategies.
type DiscountKind string

const (
	// DiscountPercentage takes Value percent of the subtotal, optionally capped.
	DiscountPercentage DiscountKind = "percentage"
	// DiscountFixed takes Value off the order, never below zero.
	DiscountFixed DiscountKind = "fixed"
)

// Valid reports whether k is a known discount kind.
func (k DiscountKind) Valid() bool {
	return k == DiscountPercentage || k == DiscountFixed
}

// ShippingMethod names an entry of the shipping cost table.
type ShippingMethod string

const (
	ShippingStandard ShippingMethod = "Standard"
	ShippingExpress  ShippingMethod = "Express"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Config holds pricing policy.
type Config struct {
	// TaxRate is applied to the subtotal, e.g. 0.07.
	TaxRate decimal.Decimal
	// Shipping maps each offered method to its flat cost.
	Shipping map[ShippingMethod]decimal.Decimal
	// DefaultShipping is the method assigned to new carts.
	DefaultShipping ShippingMethod
	// FreeShippingThreshold waives shipping when the subtotal exceeds it.
	// Zero disables the policy.
	FreeShippingThreshold decimal.Decimal
}

// DefaultConfig returns the storefront's stock pricing policy.
func DefaultConfig() Config {
	return Config{
		TaxRate: decimal.RequireFromString("0.07"),
		Shipping: map[ShippingMethod]decimal.Decimal{
			ShippingStandard: decimal.RequireFromString("5.99"),
			ShippingExpress:  decimal.RequireFromString("12.99"),
		},
		DefaultShipping:       ShippingStandard,
		FreeShippingThreshold: decimal.NewFromInt(1000),
	}
}

// Line is a priced cart line.
type Line struct {
	Quantity  int
	UnitPrice decimal.Decimal
}

// Discount is the coupon terms applied to a cart.
type Discount struct {
	Kind           DiscountKind
	Value          decimal.Decimal
	MaxDiscount    *decimal.Decimal
	MinOrderAmount decimal.Decimal
}

// Input is everything the engine needs to price a cart.
type Input struct {
	Lines    []Line
	Shipping ShippingMethod
	Discount *Discount
}

// Totals are the derived money fields of a cart or order.
type Totals struct {
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	Shipping   decimal.Decimal
	Discount   decimal.Decimal
	GrandTotal decimal.Decimal
}

// ErrUnknownShipping is returned for a method missing from the table.
var ErrUnknownShipping = errors.New("unknown shipping method")

// Engine prices carts according to a Config.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.TaxRate.IsNegative() {
		return nil, errors.New("tax rate must not be negative")
	}
	if len(cfg.Shipping) == 0 {
		return nil, errors.New("shipping table is empty")
	}
	if _, ok := cfg.Shipping[cfg.DefaultShipping]; !ok {
		return nil, errors.Errorf("default shipping method %q not in table", cfg.DefaultShipping)
	}
	for m, cost := range cfg.Shipping {
		if cost.IsNegative() {
			return nil, errors.Errorf("shipping cost for %q is negative", m)
		}
	}
	return &Engine{cfg: cfg}, nil
}

// DefaultShipping returns the method assigned to new carts.
func (e *Engine) DefaultShipping() ShippingMethod {
	return e.cfg.DefaultShipping
}

// ShippingCost returns the table cost of m.
func (e *Engine) ShippingCost(m ShippingMethod) (decimal.Decimal, error) {
	cost, ok := e.cfg.Shipping[m]
	if !ok {
		return zero, errors.Wrapf(ErrUnknownShipping, "%q", m)
	}
	return cost, nil
}

// Compute derives Totals from in.
func (e *Engine) Compute(in Input) (Totals, error) {
	var t Totals

	sum := zero
	for _, l := range in.Lines {
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	t.Subtotal = round2(sum)
	t.Tax = round2(t.Subtotal.Mul(e.cfg.TaxRate))

	cost, err := e.ShippingCost(in.Shipping)
	if err != nil {
		return Totals{}, err
	}
	t.Shipping = round2(cost)
	if e.cfg.FreeShippingThreshold.IsPositive() && t.Subtotal.GreaterThan(e.cfg.FreeShippingThreshold) {
		t.Shipping = zero
	}

	if in.Discount != nil {
		t.Discount = DiscountAmount(*in.Discount, t.Subtotal, t.Tax, t.Shipping)
	} else {
		t.Discount = zero
	}

	grand := t.Subtotal.Add(t.Tax).Add(t.Shipping).Sub(t.Discount)
	t.GrandTotal = round2(decimal.Max(zero, grand))
	return t, nil
}

// DiscountAmount returns the discount d grants on an order with the given
// subtotal, tax and shipping. A subtotal below the coupon minimum yields zero.
func DiscountAmount(d Discount, subtotal, tax, shipping decimal.Decimal) decimal.Decimal {
	if subtotal.LessThan(d.MinOrderAmount) {
		return zero
	}
	var amount decimal.Decimal
	switch d.Kind {
	case DiscountPercentage:
		amount = subtotal.Mul(d.Value).Div(hundred)
		if d.MaxDiscount != nil && amount.GreaterThan(*d.MaxDiscount) {
			amount = *d.MaxDiscount
		}
	case DiscountFixed:
		amount = decimal.Min(d.Value, subtotal.Add(tax).Add(shipping))
	default:
		return zero
	}
	return round2(decimal.Max(zero, amount))
}

// round2 rounds half away from zero to cents.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
