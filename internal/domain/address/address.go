// Package address holds the user's address book and the shipping address
// value copied into orders at checkout.
package address

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/storefront/internal/domain"
)

var (
	// ErrInvalid is returned when required address fields are missing or malformed.
	ErrInvalid = domain.NewError(domain.KindInvalidArgument, "INVALID_ADDRESS", "address is incomplete")
	// ErrNotFound is returned when the user has no address with the given ID.
	ErrNotFound = domain.NewError(domain.KindNotFound, "ADDRESS_NOT_FOUND", "address not found")
)

// Type is the kind of place an address points at.
type Type string

const (
	TypeHome Type = "home"
	TypeWork Type = "work"
)

// Address is a postal address. HouseNo and Locality are optional.
type Address struct {
	ID         string    `json:"id,omitempty"`
	UserID     string    `json:"-"`
	Type       Type      `json:"type" validate:"required,oneof=home work"`
	Name       string    `json:"name" validate:"required,max=100"`
	Mobile     string    `json:"mobile" validate:"required,min=7,max=20"`
	HouseNo    string    `json:"houseNo,omitempty" validate:"max=50"`
	Locality   string    `json:"locality,omitempty" validate:"max=100"`
	Street     string    `json:"street" validate:"required,max=200"`
	City       string    `json:"city" validate:"required,max=100"`
	District   string    `json:"district" validate:"required,max=100"`
	State      string    `json:"state" validate:"required,max=100"`
	Country    string    `json:"country" validate:"required,max=100"`
	PostalCode string    `json:"postalCode" validate:"required,max=20"`
	CreatedAt  time.Time `json:"-"`
	UpdatedAt  time.Time `json:"-"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their wire names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks required fields and lengths, listing every offending field.
func (a *Address) Validate() error {
	err := validate.Struct(a)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(err, "validate address")
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return ErrInvalid.WithFields(fields...)
}

// Snapshot returns a copy detached from the address book.
func (a Address) Snapshot() Address {
	a.ID = ""
	a.CreatedAt = time.Time{}
	a.UpdatedAt = time.Time{}
	return a
}

// Repository stores address book entries, always scoped to a user.
type Repository interface {
	Create(ctx context.Context, a *Address) error
	List(ctx context.Context, userID string) ([]Address, error)
	// Get returns ErrNotFound when id does not belong to userID.
	Get(ctx context.Context, userID, id string) (*Address, error)
	// Update returns ErrNotFound when id does not belong to a.UserID.
	Update(ctx context.Context, a *Address) error
	// Delete returns ErrNotFound when id does not belong to userID.
	Delete(ctx context.Context, userID, id string) error
}
