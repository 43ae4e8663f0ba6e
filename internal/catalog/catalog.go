// Package catalog decodes the product and coupon seed formats used by the
// seed-db and coupon-ingest tools.
//
// Records are JSON objects, either wrapped in one top-level array or
// concatenated (one per line). Money is a JSON number or a decimal string.
package catalog

import (
	"io"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
)

const dateOnly = "2006-01-02"

// CouponRecord is one coupon of a seed file.
type CouponRecord struct {
	Code              string
	DiscountType      string
	DiscountValue     decimal.Decimal
	MinOrderAmount    decimal.Decimal
	MaxDiscountAmount *decimal.Decimal
	ExpiryDate        time.Time
	UsageLimit        int
	IsActive          bool
	Description       string
}

// Coupon validates r and converts it to a domain coupon with no redemptions.
func (r CouponRecord) Coupon() (*coupon.Coupon, error) {
	code := coupon.NormalizeCode(r.Code)
	kind := pricing.DiscountKind(strings.ToLower(r.DiscountType))
	switch {
	case code == "":
		return nil, errors.New("empty code")
	case !kind.Valid():
		return nil, errors.Errorf("%s: unknown discount type %q", code, r.DiscountType)
	case !r.DiscountValue.IsPositive():
		return nil, errors.Errorf("%s: discount value must be positive", code)
	case kind == pricing.DiscountPercentage && r.DiscountValue.GreaterThan(decimal.NewFromInt(100)):
		return nil, errors.Errorf("%s: percentage above 100", code)
	case r.MinOrderAmount.IsNegative():
		return nil, errors.Errorf("%s: negative minimum order amount", code)
	case r.UsageLimit < 1:
		return nil, errors.Errorf("%s: usage limit must be at least 1", code)
	case r.ExpiryDate.IsZero():
		return nil, errors.Errorf("%s: missing expiry date", code)
	}

	c := &coupon.Coupon{
		Code:           code,
		Kind:           kind,
		Value:          r.DiscountValue,
		MinOrderAmount: r.MinOrderAmount,
		ExpiresAt:      r.ExpiryDate,
		UsageLimit:     r.UsageLimit,
		Active:         r.IsActive,
		Description:    r.Description,
	}
	// A cap only bounds percentage discounts.
	if kind == pricing.DiscountPercentage && r.MaxDiscountAmount != nil {
		maxDiscount := *r.MaxDiscountAmount
		c.MaxDiscount = &maxDiscount
	}
	return c, nil
}

// ProductRecord is one product of a seed file.
type ProductRecord struct {
	ID          string
	Title       string
	Price       decimal.Decimal
	Category    string
	StockStatus string
	Image       product.Image
}

// Product validates r and converts it to a domain product.
func (r ProductRecord) Product() (*product.Product, error) {
	if err := product.ValidateID(r.ID); err != nil {
		return nil, errors.Wrapf(err, "product %q", r.ID)
	}
	if r.Title == "" {
		return nil, errors.Errorf("product %s: empty title", r.ID)
	}
	if r.Price.IsNegative() {
		return nil, errors.Errorf("product %s: negative price", r.ID)
	}
	return &product.Product{
		ID:          r.ID,
		Title:       r.Title,
		Price:       r.Price,
		Category:    r.Category,
		StockStatus: r.StockStatus,
		Image:       r.Image,
	}, nil
}

// DecodeCoupons calls fn for every coupon record read from r.
func DecodeCoupons(r io.Reader, fn func(CouponRecord) error) error {
	return decodeRecords(r, func(d *jx.Decoder) error {
		var rec CouponRecord
		if err := decodeCoupon(d, &rec); err != nil {
			return err
		}
		return fn(rec)
	})
}

// DecodeProducts calls fn for every product record read from r.
func DecodeProducts(r io.Reader, fn func(ProductRecord) error) error {
	return decodeRecords(r, func(d *jx.Decoder) error {
		var rec ProductRecord
		if err := decodeProduct(d, &rec); err != nil {
			return err
		}
		return fn(rec)
	})
}

func decodeRecords(r io.Reader, each func(d *jx.Decoder) error) error {
	d := jx.Decode(r, 64<<10)
	if d.Next() == jx.Array {
		return d.Arr(each)
	}
	for n := 1; ; n++ {
		switch d.Next() {
		case jx.Invalid:
			// Next reports Invalid at the end of input.
			return nil
		case jx.Object:
			if err := each(d); err != nil {
				return errors.Wrapf(err, "record %d", n)
			}
		default:
			return errors.Errorf("record %d: expected object", n)
		}
	}
}

func decodeCoupon(d *jx.Decoder, rec *CouponRecord) error {
	rec.IsActive = true
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			rec.Code, err = d.Str()
		case "discountType":
			rec.DiscountType, err = d.Str()
		case "discountValue":
			rec.DiscountValue, err = decodeDecimal(d)
		case "minOrderAmount":
			rec.MinOrderAmount, err = decodeDecimal(d)
		case "maxDiscountAmount":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var v decimal.Decimal
			if v, err = decodeDecimal(d); err == nil {
				rec.MaxDiscountAmount = &v
			}
		case "expiryDate":
			rec.ExpiryDate, err = decodeDate(d)
		case "usageLimit":
			rec.UsageLimit, err = d.Int()
		case "isActive":
			rec.IsActive, err = d.Bool()
		case "description":
			rec.Description, err = d.Str()
		default:
			return d.Skip()
		}
		return errors.Wrapf(err, "field %s", key)
	})
}

func decodeProduct(d *jx.Decoder, rec *ProductRecord) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			rec.ID, err = d.Str()
		case "title", "name":
			rec.Title, err = d.Str()
		case "price":
			rec.Price, err = decodeDecimal(d)
		case "category":
			rec.Category, err = d.Str()
		case "stockStatus":
			rec.StockStatus, err = d.Str()
		case "image":
			err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				var err error
				switch string(key) {
				case "thumbnail":
					rec.Image.Thumbnail, err = d.Str()
				case "mobile":
					rec.Image.Mobile, err = d.Str()
				case "tablet":
					rec.Image.Tablet, err = d.Str()
				case "desktop":
					rec.Image.Desktop, err = d.Str()
				default:
					return d.Skip()
				}
				return err
			})
		default:
			return d.Skip()
		}
		return errors.Wrapf(err, "field %s", key)
	})
}

// decodeDecimal accepts 12.5 as well as "12.5".
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	}
}

// decodeDate accepts RFC 3339 timestamps and plain dates. A plain date
// expires at the end of that day in UTC.
func decodeDate(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateOnly, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse date %q", s)
	}
	return t.Add(24*time.Hour - time.Nanosecond), nil
}
