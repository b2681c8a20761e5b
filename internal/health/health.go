// Package health serves a liveness endpoint.
package health

import (
	"encoding/json"
	"net/http"
)

// Check returns an error when a component is not able to serve traffic.
type Check func() error

// Config of health check handler.
type Config struct {
	// Checks are named component checks, all must pass for 200 OK.
	Checks map[string]Check
}

// Handler handles health endpoint.
type Handler struct {
	config Config
}

// NewHandler creates new Handler.
func NewHandler(c Config) *Handler {
	return &Handler{config: c}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	failed := map[string]string{}
	for name, check := range h.config.Checks {
		if err := check(); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) == 0 {
		_, _ = w.Write([]byte(`{}`))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(map[string]any{"failed": failed})
}
