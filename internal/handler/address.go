package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/address"
)

func readAddress(w http.ResponseWriter, r *http.Request) (address.Address, error) {
	var a address.Address
	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), 1024)
	if err := decodeAddress(d, &a); err != nil {
		var f fieldError
		if errors.As(err, &f) {
			return a, ErrInvalidBody.WithFields(string(f))
		}
		return a, ErrInvalidBody
	}
	return a, nil
}

func (h *Handler) listAddresses(w http.ResponseWriter, r *http.Request) error {
	list, err := h.addresses.List(r.Context(), principal(r).UserID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range list {
			encodeAddress(e, &list[i])
		}
		e.ArrEnd()
	})
	return nil
}

func (h *Handler) createAddress(w http.ResponseWriter, r *http.Request) error {
	in, err := readAddress(w, r)
	if err != nil {
		return err
	}
	a, err := h.addresses.Create(r.Context(), principal(r).UserID, in)
	if err != nil {
		return err
	}
	w.Header().Set("Location", "/api/addresses/"+a.ID)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeAddress(e, a) })
	return nil
}

func (h *Handler) updateAddress(w http.ResponseWriter, r *http.Request) error {
	in, err := readAddress(w, r)
	if err != nil {
		return err
	}
	a, err := h.addresses.Update(r.Context(), principal(r).UserID, r.PathValue("id"), in)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeAddress(e, a) })
	return nil
}

func (h *Handler) deleteAddress(w http.ResponseWriter, r *http.Request) error {
	if err := h.addresses.Delete(r.Context(), principal(r).UserID, r.PathValue("id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
