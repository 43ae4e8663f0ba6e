//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestAddressBook(t *testing.T) {
	c := newClient(t)

	created := expect[addressBody](c, http.StatusCreated, http.MethodPost, "/api/addresses", testAddress())
	if created.ID == "" {
		t.Fatal("created address has no id")
	}

	upd := testAddress()
	upd.Type = "work"
	upd.City = "Shelbyville"
	updated := expect[addressBody](c, http.StatusOK, http.MethodPut, "/api/addresses/"+created.ID, upd)
	if updated.City != "Shelbyville" || updated.Type != "work" {
		t.Errorf("update: %+v", updated)
	}

	other := newClient(t)
	other.userID += "-other"
	expect[errorResponse](other, http.StatusNotFound, http.MethodPut, "/api/addresses/"+created.ID, upd)
	if list := expect[[]addressBody](other, http.StatusOK, http.MethodGet, "/api/addresses", nil); len(list) != 0 {
		t.Errorf("addresses leaked to another user: %+v", list)
	}

	list := expect[[]addressBody](c, http.StatusOK, http.MethodGet, "/api/addresses", nil)
	if len(list) != 1 {
		t.Fatalf("expected 1 address, got %d", len(list))
	}

	expect[struct{}](c, http.StatusNoContent, http.MethodDelete, "/api/addresses/"+created.ID, nil)
	expect[errorResponse](c, http.StatusNotFound, http.MethodDelete, "/api/addresses/"+created.ID, nil)
}

func TestAddressBook_Validation(t *testing.T) {
	c := newClient(t)
	bad := testAddress()
	bad.Type = "castle"
	bad.Mobile = ""

	errResp := expect[errorResponse](c, http.StatusBadRequest, http.MethodPost, "/api/addresses", bad)
	if len(errResp.Fields) != 2 {
		t.Errorf("fields: got %v, want type and mobile", errResp.Fields)
	}
}
