// Package origin checks Origin header of browser requests against a list of
// allowed origin patterns.
package origin

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// ErrNotAllowed returned when request Origin does not match allowed patterns.
var ErrNotAllowed = errors.New("origin not allowed")

// PatternChecker matches origins against glob patterns. Without patterns
// every origin is allowed, same as with a single "*" pattern.
type PatternChecker struct {
	allowAll bool
	patterns []glob.Glob
}

func NewPatternChecker(allowedOrigins []string) (*PatternChecker, error) {
	c := &PatternChecker{allowAll: len(allowedOrigins) == 0}
	for _, pattern := range allowedOrigins {
		if pattern == "*" {
			c.allowAll = true
			continue
		}
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("malformed origin pattern %q: %w", pattern, err)
		}
		c.patterns = append(c.patterns, g)
	}
	return c, nil
}

// Allowed reports whether origin matches one of the patterns.
func (c *PatternChecker) Allowed(origin string) bool {
	if c.allowAll {
		return true
	}
	origin = strings.ToLower(origin)
	for _, pattern := range c.patterns {
		if pattern.Match(origin) {
			return true
		}
	}
	return false
}

// Check returns nil for requests without Origin, same origin requests and
// requests with allowed Origin.
func (c *PatternChecker) Check(r *http.Request) error {
	origin := r.Header.Get("Origin")
	if origin == "" || c.Allowed(origin) {
		return nil
	}
	u, err := url.Parse(origin)
	if err == nil && u.Host != "" && strings.EqualFold(u.Host, r.Host) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotAllowed, origin)
}
