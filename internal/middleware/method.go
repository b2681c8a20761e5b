package middleware

import (
	"net/http"
	"slices"
	"strings"
)

// Get checks that handler called via GET or HEAD HTTP method.
func Get(h http.Handler) http.Handler {
	return Methods(h, http.MethodGet, http.MethodHead)
}

// Methods rejects requests with methods not listed with 405.
func Methods(h http.Handler, methods ...string) http.Handler {
	allow := strings.Join(methods, ", ")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !slices.Contains(methods, r.Method) {
			w.Header().Set("Allow", allow)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ServeHTTP(w, r)
	})
}
