// Package filter implements event name matchers used for per-client
// subscriptions.
package filter

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// Kind of a Matcher.
type Kind uint8

const (
	// KindExact matches a single event name.
	KindExact Kind = iota
	// KindGlob matches event names against a glob pattern, e.g. "order.*".
	KindGlob
	// KindRegexp matches event names against a regular expression written as "/expr/".
	KindRegexp
)

// Matcher is either an exact event name or a pattern.
type Matcher struct {
	kind   Kind
	source string
	glob   glob.Glob
	re     *regexp.Regexp
}

// Exact returns a matcher for one event name.
func Exact(name string) Matcher {
	return Matcher{kind: KindExact, source: name}
}

// Glob compiles a glob pattern matcher.
func Glob(pattern string) (Matcher, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return Matcher{}, fmt.Errorf("malformed event pattern %q: %w", pattern, err)
	}
	return Matcher{kind: KindGlob, source: pattern, glob: g}, nil
}

// Regexp compiles a regular expression matcher.
func Regexp(expr string) (Matcher, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Matcher{}, fmt.Errorf("malformed event regexp %q: %w", expr, err)
	}
	return Matcher{kind: KindRegexp, source: "/" + expr + "/", re: re}, nil
}

// Parse turns a subscription string into a Matcher: "/expr/" is a regular
// expression, a string containing glob meta characters is a glob, anything
// else is an exact name.
func Parse(s string) (Matcher, error) {
	if len(s) > 2 && strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/") {
		return Regexp(s[1 : len(s)-1])
	}
	if strings.ContainsAny(s, "*?[{") {
		return Glob(s)
	}
	return Exact(s), nil
}

// ParseAll parses every string, failing on the first malformed pattern.
func ParseAll(items []string) ([]Matcher, error) {
	matchers := make([]Matcher, 0, len(items))
	for _, item := range items {
		m, err := Parse(item)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	return matchers, nil
}

// Kind of the matcher.
func (m Matcher) Kind() Kind {
	return m.kind
}

// String returns the source form. Two matchers with the same source are
// considered the same subscription.
func (m Matcher) String() string {
	return m.source
}

// Match reports whether event name matches.
func (m Matcher) Match(name string) bool {
	switch m.kind {
	case KindGlob:
		return m.glob.Match(name)
	case KindRegexp:
		return m.re.MatchString(name)
	default:
		return m.source == name
	}
}

// Set is a client subscription filter. A nil *Set means the client never
// narrowed its subscription and receives everything.
type Set struct {
	matchers []Matcher
}

// NewSet creates a filter with the given matchers.
func NewSet(matchers ...Matcher) *Set {
	s := &Set{}
	s.Add(matchers...)
	return s
}

// Add appends matchers not already present and returns the number added.
func (s *Set) Add(matchers ...Matcher) int {
	var added int
	for _, m := range matchers {
		if !s.contains(m.source) {
			s.matchers = append(s.matchers, m)
			added++
		}
	}
	return added
}

// Remove drops matchers with the same source form and returns the number removed.
func (s *Set) Remove(matchers ...Matcher) int {
	before := len(s.matchers)
	s.matchers = slices.DeleteFunc(s.matchers, func(existing Matcher) bool {
		return slices.ContainsFunc(matchers, func(m Matcher) bool {
			return m.source == existing.source
		})
	})
	return before - len(s.matchers)
}

// Len returns the number of matchers.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.matchers)
}

// Strings returns source forms of all matchers.
func (s *Set) Strings() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.matchers))
	for _, m := range s.matchers {
		out = append(out, m.source)
	}
	return out
}

// Match reports whether event name passes the filter. A nil filter matches
// everything; an emptied filter matches nothing.
func (s *Set) Match(name string) bool {
	if s == nil {
		return true
	}
	for _, m := range s.matchers {
		if m.Match(name) {
			return true
		}
	}
	return false
}

func (s *Set) contains(source string) bool {
	for _, m := range s.matchers {
		if m.source == source {
			return true
		}
	}
	return false
}
