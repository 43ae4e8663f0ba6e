package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/address"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// decodeObject walks the top-level JSON object of the body. fn must consume
// or skip the value of every key.
func decodeObject(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), 1024)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		return fn(d, string(key))
	}); err != nil {
		var derr fieldError
		if errors.As(err, &derr) {
			return ErrInvalidBody.WithFields(string(derr))
		}
		return ErrInvalidBody
	}
	return nil
}

// fieldError names a body field with the wrong JSON type.
type fieldError string

func (f fieldError) Error() string { return "invalid field " + string(f) }

func str(d *jx.Decoder, key string, dst *string) error {
	v, err := d.Str()
	if err != nil {
		return fieldError(key)
	}
	*dst = v
	return nil
}

func integer(d *jx.Decoder, key string, dst *int) error {
	v, err := d.Int()
	if err != nil {
		return fieldError(key)
	}
	*dst = v
	return nil
}

func money(e *jx.Encoder, field string, d decimal.Decimal) {
	e.FieldStart(field)
	e.Num(jx.Num(d.StringFixed(2)))
}

func timestamp(e *jx.Encoder, field string, t time.Time) {
	e.FieldStart(field)
	e.Str(t.UTC().Format(time.RFC3339))
}

func optTimestamp(e *jx.Encoder, field string, t *time.Time) {
	if t != nil {
		timestamp(e, field, *t)
	}
}

func encodeCart(e *jx.Encoder, c *cart.Cart) {
	e.ObjStart()
	e.FieldStart("userId")
	e.Str(c.UserID)
	e.FieldStart("items")
	e.ArrStart()
	for _, l := range c.Lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(l.ProductID)
		e.FieldStart("title")
		e.Str(l.Title)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		money(e, "unitPrice", l.UnitPrice)
		money(e, "lineTotal", l.LineTotal)
		e.FieldStart("available")
		e.Bool(l.Available)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("shippingMethod")
	e.Str(string(c.ShippingMethod))
	if a := c.Coupon; a != nil {
		e.FieldStart("coupon")
		e.ObjStart()
		e.FieldStart("code")
		e.Str(a.Code)
		e.FieldStart("kind")
		e.Str(string(a.Kind))
		money(e, "value", a.Value)
		money(e, "minOrderAmount", a.MinOrderAmount)
		if a.MaxDiscount != nil {
			money(e, "maxDiscount", *a.MaxDiscount)
		}
		if a.Description != "" {
			e.FieldStart("description")
			e.Str(a.Description)
		}
		e.ObjEnd()
	}
	money(e, "subtotal", c.Totals.Subtotal)
	money(e, "tax", c.Totals.Tax)
	money(e, "shipping", c.Totals.Shipping)
	money(e, "discount", c.Totals.Discount)
	money(e, "grandTotal", c.Totals.GrandTotal)
	e.FieldStart("version")
	e.Int64(c.Version)
	if !c.UpdatedAt.IsZero() {
		timestamp(e, "updatedAt", c.UpdatedAt)
	}
	e.ObjEnd()
}

func encodeAddressFields(e *jx.Encoder, a *address.Address) {
	e.FieldStart("type")
	e.Str(string(a.Type))
	e.FieldStart("name")
	e.Str(a.Name)
	e.FieldStart("mobile")
	e.Str(a.Mobile)
	if a.HouseNo != "" {
		e.FieldStart("houseNo")
		e.Str(a.HouseNo)
	}
	if a.Locality != "" {
		e.FieldStart("locality")
		e.Str(a.Locality)
	}
	e.FieldStart("street")
	e.Str(a.Street)
	e.FieldStart("city")
	e.Str(a.City)
	e.FieldStart("district")
	e.Str(a.District)
	e.FieldStart("state")
	e.Str(a.State)
	e.FieldStart("country")
	e.Str(a.Country)
	e.FieldStart("postalCode")
	e.Str(a.PostalCode)
}

func encodeAddress(e *jx.Encoder, a *address.Address) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(a.ID)
	encodeAddressFields(e, a)
	if !a.CreatedAt.IsZero() {
		timestamp(e, "createdAt", a.CreatedAt)
	}
	if !a.UpdatedAt.IsZero() {
		timestamp(e, "updatedAt", a.UpdatedAt)
	}
	e.ObjEnd()
}

// decodeAddress reads an address object. Unknown keys are ignored.
func decodeAddress(d *jx.Decoder, a *address.Address) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		k := string(key)
		switch k {
		case "type":
			var t string
			if err := str(d, k, &t); err != nil {
				return err
			}
			a.Type = address.Type(t)
			return nil
		case "name":
			return str(d, k, &a.Name)
		case "mobile":
			return str(d, k, &a.Mobile)
		case "houseNo":
			return str(d, k, &a.HouseNo)
		case "locality":
			return str(d, k, &a.Locality)
		case "street":
			return str(d, k, &a.Street)
		case "city":
			return str(d, k, &a.City)
		case "district":
			return str(d, k, &a.District)
		case "state":
			return str(d, k, &a.State)
		case "country":
			return str(d, k, &a.Country)
		case "postalCode":
			return str(d, k, &a.PostalCode)
		default:
			return d.Skip()
		}
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order, warning string) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("number")
	e.Str(o.Number)
	e.FieldStart("userId")
	e.Str(o.UserID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("items")
	e.ArrStart()
	for _, l := range o.Lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(l.ProductID)
		e.FieldStart("title")
		e.Str(l.Title)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		money(e, "unitPrice", l.UnitPrice)
		e.ObjEnd()
	}
	e.ArrEnd()
	money(e, "subtotal", o.Subtotal)
	money(e, "tax", o.Tax)
	money(e, "shipping", o.Shipping)
	e.FieldStart("shippingMethod")
	e.Str(o.ShippingMethod)
	money(e, "discount", o.Discount)
	if o.CouponCode != "" {
		e.FieldStart("couponCode")
		e.Str(o.CouponCode)
	}
	money(e, "grandTotal", o.GrandTotal)
	e.FieldStart("paymentMethod")
	e.Str(o.PaymentMethod)
	e.FieldStart("shippingAddress")
	e.ObjStart()
	encodeAddressFields(e, &o.ShippingAddress)
	e.ObjEnd()
	timestamp(e, "createdAt", o.CreatedAt)
	timestamp(e, "updatedAt", o.UpdatedAt)
	optTimestamp(e, "shippedAt", o.ShippedAt)
	optTimestamp(e, "deliveredAt", o.DeliveredAt)
	optTimestamp(e, "cancelledAt", o.CancelledAt)
	optTimestamp(e, "returnedAt", o.ReturnedAt)
	if warning != "" {
		e.FieldStart("warning")
		e.Str(warning)
	}
	e.ObjEnd()
}

func (h *Handler) encodeProduct(e *jx.Encoder, p *product.Product) {
	base := h.imageBaseURL
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("title")
	e.Str(p.Title)
	money(e, "price", p.Price)
	e.FieldStart("category")
	e.Str(p.Category)
	if p.StockStatus != "" {
		e.FieldStart("stockStatus")
		e.Str(p.StockStatus)
	}
	e.FieldStart("image")
	e.ObjStart()
	e.FieldStart("thumbnail")
	e.Str(base + p.Image.Thumbnail)
	e.FieldStart("mobile")
	e.Str(base + p.Image.Mobile)
	e.FieldStart("tablet")
	e.Str(base + p.Image.Tablet)
	e.FieldStart("desktop")
	e.Str(base + p.Image.Desktop)
	e.ObjEnd()
	e.ObjEnd()
}

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("kind")
	e.Str(string(c.Kind))
	money(e, "value", c.Value)
	money(e, "minOrderAmount", c.MinOrderAmount)
	if c.MaxDiscount != nil {
		money(e, "maxDiscount", *c.MaxDiscount)
	}
	timestamp(e, "expiresAt", c.ExpiresAt)
	if c.Description != "" {
		e.FieldStart("description")
		e.Str(c.Description)
	}
	e.ObjEnd()
}
