package cart

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
)

// --- Mock implementations ---

type memCartRepo struct {
	mu        sync.Mutex
	carts     map[string]*Cart
	updateErr error
}

func newMemCartRepo() *memCartRepo {
	return &memCartRepo{carts: make(map[string]*Cart)}
}

func cloneCart(c *Cart) *Cart {
	cp := *c
	cp.Lines = slices.Clone(c.Lines)
	if c.Coupon != nil {
		applied := *c.Coupon
		cp.Coupon = &applied
	}
	return &cp
}

func (r *memCartRepo) Get(_ context.Context, userID string) (*Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.carts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCart(c), nil
}

func (r *memCartRepo) Create(_ context.Context, c *Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.carts[c.UserID]; !ok {
		stored := cloneCart(c)
		stored.Version = 1
		r.carts[c.UserID] = stored
	}
	return nil
}

func (r *memCartRepo) Update(_ context.Context, c *Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	stored, ok := r.carts[c.UserID]
	if !ok || stored.Version != c.Version {
		return ErrVersionConflict
	}
	c.Version++
	r.carts[c.UserID] = cloneCart(c)
	return nil
}

type mockProductRepo struct {
	mu       sync.Mutex
	products map[string]product.Product
}

func newMockProductRepo(products ...product.Product) *mockProductRepo {
	return &mockProductRepo{products: product.Index(products)}
}

func (m *mockProductRepo) setPrice(id, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.products[id]
	p.Price = decimal.RequireFromString(price)
	m.products[id] = p
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []product.Product
	for _, p := range m.products {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type memCouponRepo struct {
	mu      sync.Mutex
	coupons map[string]*coupon.Coupon
}

func (r *memCouponRepo) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[code]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	cp := *c
	cp.RedeemedBy = slices.Clone(c.RedeemedBy)
	return &cp, nil
}

func (r *memCouponRepo) ListAvailable(context.Context, time.Time) ([]coupon.Coupon, error) {
	return nil, nil
}

func (r *memCouponRepo) Reserve(_ context.Context, code, userID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[code]
	if !ok || c.Check(userID, now) != nil {
		return false, nil
	}
	c.RedeemedBy = append(c.RedeemedBy, userID)
	return true, nil
}

func (r *memCouponRepo) Release(_ context.Context, code, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.coupons[code]; ok {
		c.RedeemedBy = slices.DeleteFunc(c.RedeemedBy, func(u string) bool { return u == userID })
	}
	return nil
}

func (r *memCouponRepo) Upsert(context.Context, *coupon.Coupon) error { return nil }

func (r *memCouponRepo) redeemed(code string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.coupons[code].RedeemedBy)
}

// --- Helpers ---

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestProduct(id, title, price string) product.Product {
	return product.Product{ID: id, Title: title, Price: d(price), Category: "Electronics"}
}

func newTestCoupons() *memCouponRepo {
	expires := time.Now().Add(365 * 24 * time.Hour)
	maxDiscount := d("100")
	return &memCouponRepo{coupons: map[string]*coupon.Coupon{
		"WELCOME10": {
			Code: "WELCOME10", Kind: pricing.DiscountPercentage, Value: d("10"),
			MinOrderAmount: d("100"), MaxDiscount: &maxDiscount,
			ExpiresAt: expires, UsageLimit: 100, Active: true,
		},
		"FLAT50": {
			Code: "FLAT50", Kind: pricing.DiscountFixed, Value: d("50"),
			MinOrderAmount: d("200"), ExpiresAt: expires, UsageLimit: 50, Active: true,
		},
	}}
}

type fixture struct {
	svc      *Service
	carts    *memCartRepo
	products *mockProductRepo
	coupons  *memCouponRepo
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	engine, err := pricing.NewEngine(pricing.DefaultConfig())
	require.NoError(t, err)

	f := &fixture{
		carts: newMemCartRepo(),
		products: newMockProductRepo(
			newTestProduct("p-laptop", "Laptop", "500"),
			newTestProduct("p-mouse", "Mouse", "150"),
			newTestProduct("p-cable", "Cable", "9.99"),
		),
		coupons: newTestCoupons(),
	}
	guard, err := coupon.NewGuard(f.coupons)
	require.NoError(t, err)
	f.svc, err = NewService(f.carts, f.products, guard, engine, opts...)
	require.NoError(t, err)
	return f
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2), msg)
}

// --- Tests ---

func TestService_GetOrCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.Equal(t, pricing.ShippingStandard, c.ShippingMethod)
	assert.Nil(t, c.Coupon)
	assertMoney(t, "5.99", c.Totals.Shipping, "default shipping")
	assertMoney(t, "5.99", c.Totals.GrandTotal, "empty cart total")

	again, err := f.svc.GetOrCreate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, c.Version, again.Version)
	assert.Len(t, f.carts.carts, 1)
}

func TestService_AddLine_PricesCart(t *testing.T) {
	f := newFixture(t)

	c, err := f.svc.AddLine(context.Background(), "u1", "p-laptop", 1)
	require.NoError(t, err)

	require.Len(t, c.Lines, 1)
	assert.Equal(t, "Laptop", c.Lines[0].Title)
	assert.True(t, c.Lines[0].Available)
	assertMoney(t, "500.00", c.Totals.Subtotal, "subtotal")
	assertMoney(t, "35.00", c.Totals.Tax, "tax")
	assertMoney(t, "5.99", c.Totals.Shipping, "shipping")
	assertMoney(t, "0.00", c.Totals.Discount, "discount")
	assertMoney(t, "540.99", c.Totals.GrandTotal, "grand total")
}

func TestService_AddLine_MergesQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddLine(ctx, "u1", "p-cable", 2)
	require.NoError(t, err)
	c, err := f.svc.AddLine(ctx, "u1", "p-cable", 3)
	require.NoError(t, err)

	require.Len(t, c.Lines, 1)
	assert.Equal(t, 5, c.Lines[0].Quantity)
	assertMoney(t, "49.95", c.Totals.Subtotal, "subtotal")
}

func TestService_AddLine_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name      string
		productID string
		qty       int
		wantErr   error
	}{
		{name: "zero quantity", productID: "p-laptop", qty: 0, wantErr: ErrInvalidQuantity},
		{name: "negative quantity", productID: "p-laptop", qty: -1, wantErr: ErrInvalidQuantity},
		{name: "empty product id", productID: "", qty: 1, wantErr: product.ErrInvalidID},
		{name: "product id with spaces", productID: "p laptop", qty: 1, wantErr: product.ErrInvalidID},
		{name: "unknown product", productID: "p-ghost", qty: 1, wantErr: product.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddLine(context.Background(), "u1", tt.productID, tt.qty)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, f.carts.carts, "failed validation must not create a cart")
}

func TestService_SetLineQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddLine(ctx, "u1", "p-mouse", 1)
	require.NoError(t, err)

	c, err := f.svc.SetLineQuantity(ctx, "u1", "p-mouse", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Lines[0].Quantity)
	assertMoney(t, "600.00", c.Totals.Subtotal, "subtotal")

	_, err = f.svc.SetLineQuantity(ctx, "u1", "p-mouse", -1)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = f.svc.SetLineQuantity(ctx, "u1", "p-laptop", 2)
	require.ErrorIs(t, err, ErrItemNotFound)

	c, err = f.svc.SetLineQuantity(ctx, "u1", "p-mouse", 0)
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assertMoney(t, "5.99", c.Totals.GrandTotal, "grand total")
}

func TestService_RemoveLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RemoveLine(ctx, "u1", "p-laptop")
	require.ErrorIs(t, err, ErrNotFound, "no cart yet")
	assert.Empty(t, f.carts.carts)

	_, err = f.svc.AddLine(ctx, "u1", "p-laptop", 1)
	require.NoError(t, err)
	_, err = f.svc.AddLine(ctx, "u1", "p-mouse", 1)
	require.NoError(t, err)

	c, err := f.svc.RemoveLine(ctx, "u1", "p-laptop")
	require.NoError(t, err)
	assert.Equal(t, []string{"p-mouse"}, c.ProductIDs())
	version := c.Version

	for range 2 {
		_, err = f.svc.RemoveLine(ctx, "u1", "p-laptop")
		require.ErrorIs(t, err, ErrItemNotFound)
		assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	}

	after, err := f.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, version, after.Version, "failed removals must not write")
	assert.Equal(t, []string{"p-mouse"}, after.ProductIDs())
}

func TestService_SetShippingMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddLine(ctx, "u1", "p-mouse", 1)
	require.NoError(t, err)

	c, err := f.svc.SetShippingMethod(ctx, "u1", pricing.ShippingExpress)
	require.NoError(t, err)
	assertMoney(t, "12.99", c.Totals.Shipping, "shipping")
	assertMoney(t, "173.49", c.Totals.GrandTotal, "grand total")

	_, err = f.svc.SetShippingMethod(ctx, "u1", "Teleport")
	require.ErrorIs(t, err, ErrInvalidShipping)
}

func TestService_GetRepricesWithLivePrices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddLine(ctx, "u1", "p-laptop", 1)
	require.NoError(t, err)

	f.products.setPrice("p-laptop", "400")

	c, err := f.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assertMoney(t, "400.00", c.Totals.Subtotal, "subtotal")
	assertMoney(t, "433.99", c.Totals.GrandTotal, "grand total")
}

func TestService_MissingProductIsUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddLine(ctx, "u1", "p-laptop", 1)
	require.NoError(t, err)
	_, err = f.svc.AddLine(ctx, "u1", "p-cable", 1)
	require.NoError(t, err)

	f.products.mu.Lock()
	delete(f.products.products, "p-laptop")
	f.products.mu.Unlock()

	c, err := f.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p-laptop"}, c.Unavailable())
	assertMoney(t, "9.99", c.Totals.Subtotal, "subtotal")
}

func TestService_ApplyCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddLine(ctx, "u1", "p-laptop", 1)
	require.NoError(t, err)

	c, err := f.svc.ApplyCoupon(ctx, "u1", "welcome10")
	require.NoError(t, err)
	require.NotNil(t, c.Coupon)
	assert.Equal(t, "WELCOME10", c.Coupon.Code)
	assertMoney(t, "50.00", c.Totals.Discount, "discount")
	assertMoney(t, "490.99", c.Totals.GrandTotal, "grand total")
	assert.Equal(t, []string{"u1"}, f.coupons.redeemed("WELCOME10"))

	// A second apply of the same code fails and leaves one redemption.
	_, err = f.svc.ApplyCoupon(ctx, "u1", "WELCOME10")
	require.ErrorIs(t, err, coupon.ErrAlreadyUsed)
	assert.Equal(t, []string{"u1"}, f.coupons.redeemed("WELCOME10"))
}

func TestService_ApplyCoupon_MinimumNotMet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.svc.AddLine(ctx, "u1", "p-mouse", 1)
	require.NoError(t, err)

	_, err = f.svc.ApplyCoupon(ctx, "u1", "FLAT50")
	require.ErrorIs(t, err, coupon.ErrMinimumNotMet)
	assert.Equal(t, domain.KindPreconditionFailed, domain.KindOf(err))

	after, err := f.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, after.Coupon)
	assert.Equal(t, before.Version, after.Version)
	assert.Empty(t, f.coupons.redeemed("FLAT50"))
}

func TestService_ApplyCoupon_ReplacesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddLine(ctx, "u1", "p-laptop", 1)
	require.NoError(t, err)
	_, err = f.svc.ApplyCoupon(ctx, "u1", "WELCOME10")
	require.NoError(t, err)

	c, err := f.svc.ApplyCoupon(ctx, "u1", "FLAT50")
	require.NoError(t, err)
	assert.Equal(t, "FLAT50", c.Coupon.Code)
	assert.Empty(t, f.coupons.redeemed("WELCOME10"), "previous coupon released")
	assert.Equal(t, []string{"u1"}, f.coupons.redeemed("FLAT50"))
}

func TestService_ApplyCoupon_SaveFailureReleasesReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddLine(ctx, "u1", "p-laptop", 1)
	require.NoError(t, err)

	f.carts.updateErr = errors.New("disk full")
	_, err = f.svc.ApplyCoupon(ctx, "u1", "WELCOME10")
	require.Error(t, err)
	assert.Empty(t, f.coupons.redeemed("WELCOME10"))
}

func TestService_RemoveCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddLine(ctx, "u1", "p-laptop", 1)
	require.NoError(t, err)
	_, err = f.svc.ApplyCoupon(ctx, "u1", "WELCOME10")
	require.NoError(t, err)

	c, err := f.svc.RemoveCoupon(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, c.Coupon)
	assertMoney(t, "540.99", c.Totals.GrandTotal, "grand total")
	assert.Empty(t, f.coupons.redeemed("WELCOME10"))

	_, err = f.svc.RemoveCoupon(ctx, "u1")
	require.NoError(t, err, "removing without a coupon is a no-op")
}

func TestService_Clear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddLine(ctx, "u1", "p-laptop", 2)
	require.NoError(t, err)
	_, err = f.svc.SetShippingMethod(ctx, "u1", pricing.ShippingExpress)
	require.NoError(t, err)
	_, err = f.svc.ApplyCoupon(ctx, "u1", "WELCOME10")
	require.NoError(t, err)

	c, err := f.svc.Clear(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.Nil(t, c.Coupon)
	assert.Equal(t, pricing.ShippingStandard, c.ShippingMethod)
	assertMoney(t, "5.99", c.Totals.Shipping, "shipping")
	assertMoney(t, "5.99", c.Totals.GrandTotal, "grand total")
	assert.Empty(t, f.coupons.redeemed("WELCOME10"), "clear releases the reservation")
}

func TestService_ClearAfterCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddLine(ctx, "u1", "p-laptop", 1)
	require.NoError(t, err)
	_, err = f.svc.SetShippingMethod(ctx, "u1", pricing.ShippingExpress)
	require.NoError(t, err)
	_, err = f.svc.ApplyCoupon(ctx, "u1", "WELCOME10")
	require.NoError(t, err)
	ordered, err := f.svc.Get(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, f.svc.ClearAfterCheckout(ctx, ordered))

	c, err := f.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.Nil(t, c.Coupon)
	assert.Equal(t, pricing.ShippingStandard, c.ShippingMethod)
	assertMoney(t, "5.99", c.Totals.Shipping, "shipping")
	assert.Empty(t, f.coupons.redeemed("WELCOME10"), "checkout releases the reservation")

	require.ErrorIs(t, f.svc.ClearAfterCheckout(ctx, &Cart{UserID: "nobody"}), ErrNotFound)
}

func TestService_ClearAfterCheckout_KeepsLinesAddedDuringCheckout(t *testing.T) {
	tests := []struct {
		name       string
		during     func(ctx context.Context, svc *Service) error
		wantLines  []Line
		wantCoupon string
		redeemed   []string
	}{
		{
			name: "new product",
			during: func(ctx context.Context, svc *Service) error {
				_, err := svc.AddLine(ctx, "u1", "p-mouse", 1)
				return err
			},
			wantLines: []Line{{ProductID: "p-mouse", Quantity: 1}},
		},
		{
			name: "more of an ordered product",
			during: func(ctx context.Context, svc *Service) error {
				_, err := svc.AddLine(ctx, "u1", "p-laptop", 2)
				return err
			},
			wantLines: []Line{{ProductID: "p-laptop", Quantity: 2}},
		},
		{
			name: "coupon replaced",
			during: func(ctx context.Context, svc *Service) error {
				if _, err := svc.AddLine(ctx, "u1", "p-mouse", 1); err != nil {
					return err
				}
				_, err := svc.ApplyCoupon(ctx, "u1", "FLAT50")
				return err
			},
			wantLines:  []Line{{ProductID: "p-mouse", Quantity: 1}},
			wantCoupon: "FLAT50",
			redeemed:   []string{"u1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			_, err := f.svc.AddLine(ctx, "u1", "p-laptop", 1)
			require.NoError(t, err)
			_, err = f.svc.ApplyCoupon(ctx, "u1", "WELCOME10")
			require.NoError(t, err)
			ordered, err := f.svc.Get(ctx, "u1")
			require.NoError(t, err)

			require.NoError(t, tt.during(ctx, f.svc))
			require.NoError(t, f.svc.ClearAfterCheckout(ctx, ordered))

			c, err := f.svc.Get(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, c.Lines, len(tt.wantLines))
			for i, want := range tt.wantLines {
				assert.Equal(t, want.ProductID, c.Lines[i].ProductID)
				assert.Equal(t, want.Quantity, c.Lines[i].Quantity)
			}
			if tt.wantCoupon == "" {
				assert.Nil(t, c.Coupon)
			} else {
				require.NotNil(t, c.Coupon)
				assert.Equal(t, tt.wantCoupon, c.Coupon.Code)
			}
			assert.Empty(t, f.coupons.redeemed("WELCOME10"), "the ordered coupon is released")
			assert.Equal(t, tt.redeemed, f.coupons.redeemed("FLAT50"))
		})
	}
}

func TestService_ConcurrentAddLine(t *testing.T) {
	const workers = 20
	f := newFixture(t, WithMaxRetries(1000))

	var eg errgroup.Group
	for range workers {
		eg.Go(func() error {
			_, err := f.svc.AddLine(context.Background(), "u1", "p-cable", 1)
			return err
		})
	}
	require.NoError(t, eg.Wait())

	c, err := f.svc.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, workers, c.Lines[0].Quantity)
	assertMoney(t, "199.80", c.Totals.Subtotal, "subtotal")
}

func TestService_RetriesExhausted(t *testing.T) {
	f := newFixture(t, WithMaxRetries(2))
	f.carts.updateErr = ErrVersionConflict

	_, err := f.svc.AddLine(context.Background(), "u1", "p-cable", 1)
	require.ErrorIs(t, err, domain.ErrConflict)
}
