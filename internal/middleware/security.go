package middleware

import "net/http"

// SecurityHeaders adds baseline security headers to every response from
// the HTTP surface (just /health in this system — the game protocol runs
// over the upgraded WebSocket connection and never touches this
// middleware). No CSP tuned for a bundled single-page frontend here —
// this server doesn't serve one.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}
