// Package shield provides the HTTP middleware for the liseuse façade:
// security headers, request body caps, per-request trace IDs, and per-IP
// rate limiting for the endpoints that cost a browser launch.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack() {
//	    r.Use(mw)
//	}
//	r.Use(shield.NewRateLimiter(shield.DefaultRules()).Middleware)
package shield

import "net/http"

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultStack returns the standard middleware stack for the liseuse API,
// in order: HeadToGet, SecurityHeaders, MaxBody, TraceID. Rate limiting
// is separate so callers can scope its rules to the expensive routes.
func DefaultStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(64 * 1024),
		TraceID,
	}
}

// HeadToGet rewrites HEAD requests to GET so handlers registered with
// r.Get() answer them; net/http strips the body from HEAD responses.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
