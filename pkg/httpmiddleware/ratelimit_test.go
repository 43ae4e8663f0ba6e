package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.RemoteAddr = "10.0.0.1:9999"
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_OverLimit(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())

	for i := range 2 {
		w := serve(h, nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := serve(h, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body struct {
		Code    int    `json:"code"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, 429, body.Code)
	assert.Equal(t, "RATE_LIMITED", body.Error)
	assert.Equal(t, "rate limit exceeded", body.Message)
}

func TestRateLimit_Keys(t *testing.T) {
	tests := []struct {
		name      string
		keyFunc   func(*http.Request) string
		first     func(*http.Request)
		second    func(*http.Request)
		wantAllow bool
	}{
		{
			name:      "different ips",
			first:     func(r *http.Request) { r.RemoteAddr = "10.0.0.1:1" },
			second:    func(r *http.Request) { r.RemoteAddr = "10.0.0.2:1" },
			wantAllow: true,
		},
		{
			name:      "same ip different port",
			first:     func(r *http.Request) { r.RemoteAddr = "10.0.0.1:1" },
			second:    func(r *http.Request) { r.RemoteAddr = "10.0.0.1:2" },
			wantAllow: false,
		},
		{
			name: "forwarded for first hop",
			first: func(r *http.Request) {
				r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
			},
			second: func(r *http.Request) {
				r.RemoteAddr = "192.168.1.2:5555"
				r.Header.Set("X-Forwarded-For", "203.0.113.50")
			},
			wantAllow: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute, KeyFunc: tt.keyFunc})(okHandler())
			require.Equal(t, http.StatusOK, serve(h, tt.first).Code)

			want := http.StatusTooManyRequests
			if tt.wantAllow {
				want = http.StatusOK
			}
			assert.Equal(t, want, serve(h, tt.second).Code)
		})
	}
}

func TestLimiter_SlidingWindow(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 2, Window: time.Minute})
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, _, ok := l.take("k", start)
	require.True(t, ok)
	_, _, ok = l.take("k", start.Add(time.Second))
	require.True(t, ok)
	_, _, ok = l.take("k", start.Add(2*time.Second))
	require.False(t, ok)

	// Half way through the next window half of the previous count remains.
	remaining, _, ok := l.take("k", start.Add(90*time.Second))
	require.True(t, ok)
	assert.Equal(t, 0, remaining)

	l.evict(start.Add(10 * time.Minute))
	assert.Empty(t, l.buckets)
}
