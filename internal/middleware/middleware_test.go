package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/centrifugal/evbridge/internal/metrics"

	"github.com/stretchr/testify/require"
)

func testHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func TestCORSPreflight(t *testing.T) {
	h := NewCORS(func(r *http.Request) bool { return true }, "X-Client-Id").Middleware(testHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/event/publish", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "X-Client-Id, Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
	require.Empty(t, rec.Body.String())
}

func TestCORSDisallowedOrigin(t *testing.T) {
	h := NewCORS(func(r *http.Request) bool { return false }).Middleware(testHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/event", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "ok", rec.Body.String())
}

func TestCheckOrigin(t *testing.T) {
	h := CheckOrigin(func(r *http.Request) error {
		if r.Header.Get("Origin") != "" {
			return http.ErrNotSupported
		}
		return nil
	}, testHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMethods(t *testing.T) {
	h := Get(testHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}

func TestStatusResponseWriterFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &statusResponseWriter{ResponseWriter: rec}
	var _ http.Flusher = w
	w.Flush()
	require.True(t, rec.Flushed)
	require.Equal(t, http.StatusOK, w.Status())
	require.Equal(t, rec, w.Unwrap())
}

func TestHTTPServerInstrumentation(t *testing.T) {
	h := HTTPServerInstrumentation("/test_instrumentation", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	counter := metrics.HTTPRequestsTotal.WithLabelValues("/test_instrumentation", http.MethodGet, "418")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
	require.NotNil(t, counter)
}
