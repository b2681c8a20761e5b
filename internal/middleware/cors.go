package middleware

import (
	"net/http"
	"strings"
)

type OriginCheck func(r *http.Request) bool

// CORS middleware. Preflight requests of allowed origins are answered
// directly.
type CORS struct {
	originCheck  OriginCheck
	allowHeaders []string
}

// NewCORS creates CORS middleware. Extra headers are always listed in
// Access-Control-Allow-Headers of preflight responses.
func NewCORS(originCheck OriginCheck, allowHeaders ...string) *CORS {
	return &CORS{originCheck: originCheck, allowHeaders: allowHeaders}
}

func (c *CORS) Middleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !c.originCheck(r) {
			h.ServeHTTP(w, r)
			return
		}
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", origin)
		header.Set("Access-Control-Allow-Credentials", "true")
		header.Add("Vary", "Origin")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			allowHeaders := append([]string{}, c.allowHeaders...)
			if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" && requested != "null" {
				allowHeaders = append(allowHeaders, requested)
			}
			if len(allowHeaders) > 0 {
				header.Set("Access-Control-Allow-Headers", strings.Join(allowHeaders, ", "))
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// CheckOrigin middleware rejects requests which do not pass check with 403.
func CheckOrigin(check func(r *http.Request) error, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := check(r); err != nil {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		h.ServeHTTP(w, r)
	})
}
