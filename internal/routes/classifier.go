// AngelaMos | 2026
// classifier.go

// Package routes decides which inbound requests must carry a valid access
// credential. The decision is a pure function of (method, path) over a rule
// table that is compiled once and never mutated afterwards.
package routes

import (
	"fmt"
	"net/http"
	"strings"
)

// Rule marks one endpoint as reachable without a credential. Patterns are
// full-segment: "/api/v1/campgrounds/{id}" matches exactly three segments
// with any value in the third position. A rule never matches a longer path,
// so public prefixes cannot accidentally expose nested endpoints.
type Rule struct {
	Method  string
	Pattern string
}

type compiledRule struct {
	method   string
	segments []string
}

type Classifier struct {
	namespace []string
	rules     []compiledRule
}

// NewClassifier compiles the public-rule table. namespace is the path prefix
// under which credentials are ever required; requests outside it (health
// probes, JWKS) are always public.
func NewClassifier(namespace string, public []Rule) (*Classifier, error) {
	c := &Classifier{
		namespace: splitPath(namespace),
		rules:     make([]compiledRule, 0, len(public)),
	}

	for _, r := range public {
		method := strings.ToUpper(strings.TrimSpace(r.Method))
		if method == "" {
			return nil, fmt.Errorf("classifier: rule %q has empty method", r.Pattern)
		}

		segments := splitPath(r.Pattern)
		if len(segments) == 0 {
			return nil, fmt.Errorf("classifier: rule has empty pattern")
		}

		c.rules = append(c.rules, compiledRule{
			method:   method,
			segments: segments,
		})
	}

	return c, nil
}

// Default returns the platform's rule table: registration, login, token
// refresh, the password-reset and email-verification entry points, and the
// public read-only campground surface. Everything else under /api/v1
// requires a credential. A public GET never implies a public POST.
func Default() *Classifier {
	c, err := NewClassifier("/api/v1", []Rule{
		{http.MethodPost, "/api/v1/auth/register"},
		{http.MethodPost, "/api/v1/auth/login"},
		{http.MethodPost, "/api/v1/auth/refresh"},
		{http.MethodPost, "/api/v1/auth/forgot-password"},
		{http.MethodPost, "/api/v1/auth/reset-password"},
		{http.MethodPost, "/api/v1/auth/verify-email"},

		{http.MethodGet, "/api/v1/campgrounds"},
		{http.MethodGet, "/api/v1/campgrounds/{id}"},
		{http.MethodGet, "/api/v1/campgrounds/{id}/reviews"},
		{http.MethodGet, "/api/v1/campgrounds/{id}/weather"},
		{http.MethodGet, "/api/v1/search"},
	})
	if err != nil {
		panic(fmt.Sprintf("routes: invalid default rule table: %v", err))
	}
	return c
}

// RequiresAuth reports whether a request for (method, path) must present a
// valid credential. Trailing slashes and querystrings are ignored. HEAD is
// classified like GET.
func (c *Classifier) RequiresAuth(method, path string) bool {
	method = strings.ToUpper(method)
	if method == http.MethodHead {
		method = http.MethodGet
	}

	segments := splitPath(path)

	if !hasPrefix(segments, c.namespace) {
		return false
	}

	for _, rule := range c.rules {
		if rule.method != method {
			continue
		}
		if matchSegments(rule.segments, segments) {
			return false
		}
	}

	return true
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) != len(path) {
		return false
	}

	for i, p := range pattern {
		if isWildcard(p) {
			if path[i] == "" {
				return false
			}
			continue
		}
		if p != path[i] {
			return false
		}
	}

	return true
}

func isWildcard(segment string) bool {
	return len(segment) > 1 &&
		strings.HasPrefix(segment, "{") &&
		strings.HasSuffix(segment, "}")
}

func hasPrefix(segments, prefix []string) bool {
	if len(segments) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if segments[i] != p {
			return false
		}
	}
	return true
}

func splitPath(path string) []string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}

	return strings.Split(path, "/")
}
