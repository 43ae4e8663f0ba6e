package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/pricing"
)

func writeCart(w http.ResponseWriter, c *cart.Cart) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCart(e, c) })
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) error {
	c, err := h.carts.Get(r.Context(), principal(r).UserID)
	if err != nil {
		return err
	}
	writeCart(w, c)
	return nil
}

// addItem handles {"productId": "...", "quantity": n}; quantity defaults to 1.
func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) error {
	var (
		productID string
		qty       = 1
	)
	if err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "productId":
			return str(d, key, &productID)
		case "quantity":
			return integer(d, key, &qty)
		default:
			return d.Skip()
		}
	}); err != nil {
		return err
	}

	c, err := h.carts.AddLine(r.Context(), principal(r).UserID, productID, qty)
	if err != nil {
		return err
	}
	writeCart(w, c)
	return nil
}

func (h *Handler) updateItemQuantity(w http.ResponseWriter, r *http.Request) error {
	qty := -1
	if err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key == "quantity" {
			return integer(d, key, &qty)
		}
		return d.Skip()
	}); err != nil {
		return err
	}
	if qty < 0 {
		return cart.ErrInvalidQuantity.WithMessage("quantity must be zero or more").WithFields("quantity")
	}

	c, err := h.carts.SetLineQuantity(r.Context(), principal(r).UserID, r.PathValue("productId"), qty)
	if err != nil {
		return err
	}
	writeCart(w, c)
	return nil
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) error {
	c, err := h.carts.RemoveLine(r.Context(), principal(r).UserID, r.PathValue("productId"))
	if err != nil {
		return err
	}
	writeCart(w, c)
	return nil
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) error {
	c, err := h.carts.Clear(r.Context(), principal(r).UserID)
	if err != nil {
		return err
	}
	writeCart(w, c)
	return nil
}

func (h *Handler) setShipping(w http.ResponseWriter, r *http.Request) error {
	var method string
	if err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key == "method" {
			return str(d, key, &method)
		}
		return d.Skip()
	}); err != nil {
		return err
	}

	c, err := h.carts.SetShippingMethod(r.Context(), principal(r).UserID, pricing.ShippingMethod(method))
	if err != nil {
		return err
	}
	writeCart(w, c)
	return nil
}

func decodeCode(w http.ResponseWriter, r *http.Request) (string, error) {
	var code string
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key == "code" {
			return str(d, key, &code)
		}
		return d.Skip()
	})
	return code, err
}

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) error {
	code, err := decodeCode(w, r)
	if err != nil {
		return err
	}
	c, err := h.carts.ApplyCoupon(r.Context(), principal(r).UserID, code)
	if err != nil {
		return err
	}
	writeCart(w, c)
	return nil
}

func (h *Handler) removeCoupon(w http.ResponseWriter, r *http.Request) error {
	c, err := h.carts.RemoveCoupon(r.Context(), principal(r).UserID)
	if err != nil {
		return err
	}
	writeCart(w, c)
	return nil
}

// validateCoupon previews the discount without reserving the coupon.
func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) error {
	code, err := decodeCode(w, r)
	if err != nil {
		return err
	}
	p, err := h.carts.ValidateCoupon(r.Context(), principal(r).UserID, code)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("valid")
		e.Bool(true)
		money(e, "discount", p.Discount)
		e.FieldStart("coupon")
		encodeCoupon(e, p.Coupon)
		e.ObjEnd()
	})
	return nil
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) error {
	list, err := h.coupons.ListAvailable(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range list {
			encodeCoupon(e, &list[i])
		}
		e.ArrEnd()
	})
	return nil
}
