package health

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealthHandler(t *testing.T) {
	h := NewHandler(Config{Checks: map[string]Check{
		"channel": func() error { return nil },
	}})

	ts := httptest.NewServer(h)
	defer ts.Close()

	res, err := http.Get(ts.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	defer func() { _ = res.Body.Close() }()

	require.Equal(t, "application/json", res.Header.Get("Content-Type"))

	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, []byte(`{}`), data)
}

func TestHealthHandlerFailedCheck(t *testing.T) {
	h := NewHandler(Config{Checks: map[string]Check{
		"channel": func() error { return errors.New("channel closed") },
	}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"failed": {"channel": "channel closed"}}`, rec.Body.String())
}
