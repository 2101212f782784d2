package shield

import "net/http"

// MaxBody returns middleware that caps every request body. The API carries
// only small JSON documents; MaxBytesReader turns anything larger into a
// 413 at read time.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
