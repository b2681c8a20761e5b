package middleware

import (
	"net/http"
	"strconv"

	"github.com/centrifugal/evbridge/internal/metrics"
)

// HTTPServerInstrumentation is a middleware to count served HTTP requests.
// Path label is given explicitly to keep label cardinality bounded. Note,
// durations are not collected since event streams are long-lived.
func HTTPServerInstrumentation(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusResponseWriter{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		metrics.HTTPRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(rw.Status())).Inc()
	})
}
