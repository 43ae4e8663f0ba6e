package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/address"
)

const (
	addressColumns = `id, user_id, type, name, mobile, house_no, locality, street,
		city, district, state, country, postal_code, created_at, updated_at`

	insertAddressSQL = `INSERT INTO addresses (` + addressColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	listAddressesSQL = `SELECT ` + addressColumns + ` FROM addresses
		WHERE user_id = $1 ORDER BY created_at DESC`

	getAddressSQL = `SELECT ` + addressColumns + ` FROM addresses
		WHERE id = $1 AND user_id = $2`

	updateAddressSQL = `UPDATE addresses SET
			type = $3, name = $4, mobile = $5, house_no = $6, locality = $7, street = $8,
			city = $9, district = $10, state = $11, country = $12, postal_code = $13,
			updated_at = $14
		WHERE id = $1 AND user_id = $2`

	deleteAddressSQL = `DELETE FROM addresses WHERE id = $1 AND user_id = $2`
)

var _ address.Repository = (*AddressRepository)(nil)

// AddressRepository implements address.Repository backed by PostgreSQL.
type AddressRepository struct {
	db DB
}

// NewAddressRepository returns an AddressRepository that uses db.
func NewAddressRepository(db DB) *AddressRepository {
	return &AddressRepository{db: db}
}

func (r *AddressRepository) Create(ctx context.Context, a *address.Address) error {
	_, err := r.db.Exec(ctx, insertAddressSQL,
		a.ID, a.UserID, string(a.Type), a.Name, a.Mobile, a.HouseNo, a.Locality, a.Street,
		a.City, a.District, a.State, a.Country, a.PostalCode, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert address")
	}
	return nil
}

func (r *AddressRepository) List(ctx context.Context, userID string) ([]address.Address, error) {
	rows, err := r.db.Query(ctx, listAddressesSQL, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list addresses")
	}
	return pgx.CollectRows(rows, scanAddress)
}

func (r *AddressRepository) Get(ctx context.Context, userID, id string) (*address.Address, error) {
	if uuid.Validate(id) != nil {
		return nil, address.ErrNotFound
	}
	rows, err := r.db.Query(ctx, getAddressSQL, id, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "get address %q", id)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAddress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, address.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get address %q", id)
	}
	return &a, nil
}

func (r *AddressRepository) Update(ctx context.Context, a *address.Address) error {
	if uuid.Validate(a.ID) != nil {
		return address.ErrNotFound
	}
	tag, err := r.db.Exec(ctx, updateAddressSQL,
		a.ID, a.UserID, string(a.Type), a.Name, a.Mobile, a.HouseNo, a.Locality, a.Street,
		a.City, a.District, a.State, a.Country, a.PostalCode, a.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "update address %q", a.ID)
	}
	if tag.RowsAffected() == 0 {
		return address.ErrNotFound
	}
	return nil
}

func (r *AddressRepository) Delete(ctx context.Context, userID, id string) error {
	if uuid.Validate(id) != nil {
		return address.ErrNotFound
	}
	tag, err := r.db.Exec(ctx, deleteAddressSQL, id, userID)
	if err != nil {
		return errors.Wrapf(err, "delete address %q", id)
	}
	if tag.RowsAffected() == 0 {
		return address.ErrNotFound
	}
	return nil
}

func scanAddress(row pgx.CollectableRow) (address.Address, error) {
	var a address.Address
	err := row.Scan(
		&a.ID, &a.UserID, &a.Type, &a.Name, &a.Mobile, &a.HouseNo, &a.Locality, &a.Street,
		&a.City, &a.District, &a.State, &a.Country, &a.PostalCode, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}
