package product

import (
	"context"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = domain.NewError(domain.KindNotFound, "PRODUCT_NOT_FOUND", "product not found")
	// ErrInvalidID is returned for a malformed product identifier.
	ErrInvalidID = domain.NewError(domain.KindInvalidArgument, "INVALID_PRODUCT_ID", "invalid product id")
)

const maxIDLength = 64

// Product is a read-only catalog entry referenced by carts and orders.
type Product struct {
	ID          string
	Title       string
	Price       decimal.Decimal
	Category    string
	StockStatus string
	Image       Image
}

// Image holds responsive image URLs for a product.
type Image struct {
	Thumbnail string
	Mobile    string
	Tablet    string
	Desktop   string
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}

// ValidateID reports ErrInvalidID for empty, oversized or whitespace-bearing
// identifiers.
func ValidateID(id string) error {
	if id == "" || len(id) > maxIDLength || strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return ErrInvalidID.WithFields("productId")
	}
	return nil
}

// Index maps products by ID.
func Index(products []Product) map[string]Product {
	m := make(map[string]Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return m
}
