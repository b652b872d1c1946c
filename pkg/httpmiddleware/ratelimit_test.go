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

func hit(t *testing.T, handler http.Handler, remoteAddr string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func passthrough() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit(t *testing.T) {
	t.Run("budget admits exactly Max requests", func(t *testing.T) {
		handler := RateLimit(RateLimitConfig{Max: 5, Window: time.Minute})(passthrough())

		for i := range 5 {
			rec := hit(t, handler, "192.168.1.1:12345", nil)
			require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
			assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
			assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
		}

		rec := hit(t, handler, "192.168.1.1:12345", nil)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("429 body and headers", func(t *testing.T) {
		handler := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(passthrough())

		require.Equal(t, http.StatusOK, hit(t, handler, "10.0.0.1:9999", nil).Code)

		rec := hit(t, handler, "10.0.0.1:9999", nil)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, float64(http.StatusTooManyRequests), body["code"])
		assert.Equal(t, "rate limit exceeded", body["message"])
	})

	t.Run("keys are independent", func(t *testing.T) {
		handler := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(passthrough())

		assert.Equal(t, http.StatusOK, hit(t, handler, "10.0.0.1:1234", nil).Code)
		assert.Equal(t, http.StatusOK, hit(t, handler, "10.0.0.2:1234", nil).Code)
		// Port changes do not change the key.
		assert.Equal(t, http.StatusTooManyRequests, hit(t, handler, "10.0.0.1:5678", nil).Code)
	})

	t.Run("custom key func", func(t *testing.T) {
		handler := RateLimit(RateLimitConfig{
			Max:     1,
			Window:  time.Minute,
			KeyFunc: func(r *http.Request) string { return r.Header.Get("X-API-Key") },
		})(passthrough())

		assert.Equal(t, http.StatusOK, hit(t, handler, "", map[string]string{"X-API-Key": "key-a"}).Code)
		assert.Equal(t, http.StatusTooManyRequests, hit(t, handler, "", map[string]string{"X-API-Key": "key-a"}).Code)
		assert.Equal(t, http.StatusOK, hit(t, handler, "", map[string]string{"X-API-Key": "key-b"}).Code)
	})

	t.Run("forwarded-for first hop wins over socket peer", func(t *testing.T) {
		handler := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(passthrough())

		fwd := map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}
		assert.Equal(t, http.StatusOK, hit(t, handler, "192.168.1.1:4444", fwd).Code)
		assert.Equal(t, http.StatusTooManyRequests, hit(t, handler, "192.168.1.2:5555", fwd).Code)
	})
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		header     map[string]string
		want       string
	}{
		{name: "socket peer", remoteAddr: "10.1.2.3:555", want: "10.1.2.3"},
		{name: "real-ip", remoteAddr: "10.1.2.3:555", header: map[string]string{"X-Real-IP": "198.51.100.7"}, want: "198.51.100.7"},
		{name: "forwarded single", remoteAddr: "10.1.2.3:555", header: map[string]string{"X-Forwarded-For": "203.0.113.9"}, want: "203.0.113.9"},
		{name: "forwarded chain", remoteAddr: "10.1.2.3:555", header: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, want: "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
