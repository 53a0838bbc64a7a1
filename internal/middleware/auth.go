package middleware

import "net/http"

// OriginChecker validates the Origin header of an incoming upgrade request
// against an allow-list (ALLOWED_ORIGINS, comma-separated, default
// includes http://localhost:3000 in dev). Requests with no Origin header
// at all (same-origin, non-browser clients) are allowed through — only a
// mismatched Origin is refused.
type OriginChecker struct {
	allowed map[string]bool
}

// NewOriginChecker builds a checker from the configured allow-list.
func NewOriginChecker(origins []string) *OriginChecker {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &OriginChecker{allowed: allowed}
}

// Allowed reports whether r's Origin header (if present) is in the
// allow-list.
func (c *OriginChecker) Allowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return c.allowed[origin]
}
