package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/address"
	"github.com/xenking/storefront/internal/domain/order"
)

const maxIdempotencyKeyLength = 128

// ErrInvalidIdempotencyKey is returned for an oversized Idempotency-Key.
var ErrInvalidIdempotencyKey = domain.NewError(domain.KindInvalidArgument, "INVALID_IDEMPOTENCY_KEY", "idempotency key is too long")

// placeOrder handles {"addressId": "..."} or {"address": {...}}. A replayed
// Idempotency-Key answers 200 with the original order instead of 201.
func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) error {
	p := principal(r)
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if len(key) > maxIdempotencyKeyLength {
		return ErrInvalidIdempotencyKey.WithFields(HeaderIdempotencyKey)
	}

	req := order.PlaceOrderRequest{UserID: p.UserID, IdempotencyKey: key}
	if err := decodeObject(w, r, func(d *jx.Decoder, k string) error {
		switch k {
		case "addressId":
			return str(d, k, &req.AddressID)
		case "address":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.Address = &address.Address{}
			if err := decodeAddress(d, req.Address); err != nil {
				return fieldError(k)
			}
			return nil
		default:
			return d.Skip()
		}
	}); err != nil {
		return err
	}

	res, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		return err
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
		w.Header().Set("Idempotent-Replayed", "true")
	}
	w.Header().Set("Location", "/api/orders/"+res.Order.ID)
	writeJSON(w, status, func(e *jx.Encoder) { encodeOrder(e, res.Order, res.Warning) })
	return nil
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) error {
	list, err := h.orders.ListByUser(r.Context(), principal(r).UserID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range list {
			encodeOrder(e, &list[i], "")
		}
		e.ArrEnd()
	})
	return nil
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) error {
	p := principal(r)
	o, err := h.orders.Get(r.Context(), r.PathValue("orderId"), p.UserID, p.Admin)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o, "") })
	return nil
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) error {
	p := principal(r)
	if !p.Admin {
		return domain.ErrForbidden.WithMessage("only administrators can change order status")
	}
	var status string
	if err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key == "status" {
			return str(d, key, &status)
		}
		return d.Skip()
	}); err != nil {
		return err
	}

	o, err := h.orders.UpdateStatus(r.Context(), order.UpdateStatusRequest{
		OrderID: r.PathValue("orderId"),
		Status:  status,
		IsAdmin: p.Admin,
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o, "") })
	return nil
}
