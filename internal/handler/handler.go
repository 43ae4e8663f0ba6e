// Package handler serves the storefront JSON API over net/http.
package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/address"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Carts is implemented by *cart.Service.
type Carts interface {
	Get(ctx context.Context, userID string) (*cart.Cart, error)
	AddLine(ctx context.Context, userID, productID string, qty int) (*cart.Cart, error)
	SetLineQuantity(ctx context.Context, userID, productID string, qty int) (*cart.Cart, error)
	RemoveLine(ctx context.Context, userID, productID string) (*cart.Cart, error)
	SetShippingMethod(ctx context.Context, userID string, method pricing.ShippingMethod) (*cart.Cart, error)
	Clear(ctx context.Context, userID string) (*cart.Cart, error)
	ValidateCoupon(ctx context.Context, userID, code string) (*coupon.Preview, error)
	ApplyCoupon(ctx context.Context, userID, code string) (*cart.Cart, error)
	RemoveCoupon(ctx context.Context, userID string) (*cart.Cart, error)
}

// Coupons is implemented by *coupon.Guard.
type Coupons interface {
	ListAvailable(ctx context.Context) ([]coupon.Coupon, error)
}

// Orders is implemented by *order.Service.
type Orders interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	Get(ctx context.Context, orderID, userID string, isAdmin bool) (*order.Order, error)
	ListByUser(ctx context.Context, userID string) ([]order.Order, error)
	UpdateStatus(ctx context.Context, req order.UpdateStatusRequest) (*order.Order, error)
}

// Addresses is implemented by *address.Service.
type Addresses interface {
	Create(ctx context.Context, userID string, a address.Address) (*address.Address, error)
	List(ctx context.Context, userID string) ([]address.Address, error)
	Update(ctx context.Context, userID, id string, a address.Address) (*address.Address, error)
	Delete(ctx context.Context, userID, id string) error
}

var (
	_ Carts         = (*cart.Service)(nil)
	_ Coupons       = (*coupon.Guard)(nil)
	_ Orders        = (*order.Service)(nil)
	_ Addresses     = (*address.Service)(nil)
	_ Authenticator = (*auth.Authenticator)(nil)
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	// When empty, image paths are returned as stored in the database.
	ImageBaseURL string
}

// Handler binds the domain services to HTTP routes.
type Handler struct {
	products     product.Repository
	carts        Carts
	coupons      Coupons
	orders       Orders
	addresses    Addresses
	imageBaseURL string
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	products product.Repository,
	carts Carts,
	coupons Coupons,
	orders Orders,
	addresses Addresses,
) *Handler {
	return &Handler{
		products:     products,
		carts:        carts,
		coupons:      coupons,
		orders:       orders,
		addresses:    addresses,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// RouteLimits holds the rate limiters of the two route groups. A nil limiter
// disables limiting for its group.
type RouteLimits struct {
	// Public guards the catalog and is keyed by client IP.
	Public httpmiddleware.Middleware
	// Private runs after authentication, so it can key on the principal.
	Private httpmiddleware.Middleware
}

// Register adds the API routes to mux. The catalog is public; every other
// route goes through authn.
func (h *Handler) Register(mux *http.ServeMux, authn Authenticator, limits RouteLimits) {
	public := func(fn handlerFunc) http.Handler { return limited(limits.Public, serve(fn)) }
	private := func(fn handlerFunc) http.Handler {
		return RequireUser(authn)(limited(limits.Private, serve(fn)))
	}

	mux.Handle("GET /api/products", public(h.listProducts))
	mux.Handle("GET /api/products/{productId}", public(h.getProduct))

	mux.Handle("GET /api/cart", private(h.getCart))
	mux.Handle("DELETE /api/cart", private(h.clearCart))
	mux.Handle("POST /api/cart/items", private(h.addItem))
	mux.Handle("PUT /api/cart/items/{productId}", private(h.updateItemQuantity))
	mux.Handle("DELETE /api/cart/items/{productId}", private(h.removeItem))
	mux.Handle("POST /api/cart/coupon", private(h.applyCoupon))
	mux.Handle("DELETE /api/cart/coupon", private(h.removeCoupon))
	mux.Handle("POST /api/cart/coupon/validate", private(h.validateCoupon))
	mux.Handle("PUT /api/cart/shipping", private(h.setShipping))

	mux.Handle("GET /api/coupons", private(h.listCoupons))

	mux.Handle("POST /api/orders", private(h.placeOrder))
	mux.Handle("GET /api/orders", private(h.listOrders))
	mux.Handle("GET /api/orders/{orderId}", private(h.getOrder))
	mux.Handle("PUT /api/orders/{orderId}/status", private(h.updateOrderStatus))

	mux.Handle("GET /api/addresses", private(h.listAddresses))
	mux.Handle("POST /api/addresses", private(h.createAddress))
	mux.Handle("PUT /api/addresses/{id}", private(h.updateAddress))
	mux.Handle("DELETE /api/addresses/{id}", private(h.deleteAddress))
}

func limited(limit httpmiddleware.Middleware, next http.Handler) http.Handler {
	if limit == nil {
		return next
	}
	return limit(next)
}

// handlerFunc is an HTTP handler whose failures are rendered by serve.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func serve(fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			writeError(r.Context(), w, err)
		}
	})
}

func logger(ctx context.Context) *zap.Logger {
	return zctx.From(ctx)
}
