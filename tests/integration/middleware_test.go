//go:build integration

package integration

import (
	"net/http"
	"strconv"
	"strings"
	"testing"
)

func TestRequestID(t *testing.T) {
	c := newClient(t)

	resp := c.do(http.MethodGet, "/api/cart", nil)
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not generated")
	}

	resp = c.with("X-Request-ID", "checkout-trace-42").do(http.MethodGet, "/api/cart", nil)
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "checkout-trace-42" {
		t.Errorf("X-Request-ID: got %q, want %q", got, "checkout-trace-42")
	}
}

func TestCORS(t *testing.T) {
	c := newClient(t).with("Origin", "http://shop.example.com")

	t.Run("preflight", func(t *testing.T) {
		pre := *c
		pre.t = t
		pre.headers = map[string]string{
			"Origin":                         "http://shop.example.com",
			"Access-Control-Request-Method":  "POST",
			"Access-Control-Request-Headers": "X-API-Key, X-User-ID, Idempotency-Key",
		}
		resp := pre.do(http.MethodOptions, "/api/orders", nil)
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", resp.StatusCode)
		}
		if resp.Header.Get("Access-Control-Allow-Origin") == "" {
			t.Error("Access-Control-Allow-Origin header not present")
		}
		allowed := strings.ToLower(resp.Header.Get("Access-Control-Allow-Headers"))
		for _, h := range []string{"x-api-key", "x-user-id", "idempotency-key"} {
			if !strings.Contains(allowed, h) {
				t.Errorf("Access-Control-Allow-Headers %q lacks %s", allowed, h)
			}
		}
	})

	t.Run("exposed headers", func(t *testing.T) {
		cc := *c
		cc.t = t
		resp := cc.do(http.MethodGet, "/api/cart", nil)
		defer resp.Body.Close()

		exposed := resp.Header.Get("Access-Control-Expose-Headers")
		for _, h := range []string{"Location", "Idempotent-Replayed"} {
			if !strings.Contains(exposed, h) {
				t.Errorf("Access-Control-Expose-Headers %q lacks %s", exposed, h)
			}
		}
	})
}

func TestRateLimit_PerUser(t *testing.T) {
	a := newClient(t)
	b := newClient(t)
	b.userID += "-b"

	remaining := func(c *client) int {
		resp := c.do(http.MethodGet, "/api/cart", nil)
		resp.Body.Close()
		if resp.Header.Get("X-RateLimit-Limit") == "" {
			t.Fatal("X-RateLimit-Limit header not present")
		}
		n, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
		if err != nil {
			t.Fatalf("X-RateLimit-Remaining: %v", err)
		}
		return n
	}

	first := remaining(a)
	if second := remaining(a); second != first-1 {
		t.Errorf("same user: remaining %d then %d", first, second)
	}
	if other := remaining(b); other != first {
		t.Errorf("other user shares the window: got %d, want %d", other, first)
	}
}

func TestErrorBody(t *testing.T) {
	c := newClient(t)
	c.apiKey = "wrong-key"

	errResp := expect[errorResponse](c, http.StatusUnauthorized, http.MethodGet, "/api/cart", nil)
	if errResp.Code == "" || errResp.Message == "" {
		t.Errorf("error body: %+v", errResp)
	}
}
