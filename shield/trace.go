package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/liseuse/kit"
)

const traceHeader = "X-Trace-ID"

// TraceID tags each request with a trace ID and a per-request structured
// logger. A well-formed inbound X-Trace-ID is reused so the web client can
// correlate its own call chain with the server log; anything else gets a
// fresh random ID. The ID travels in the context under kit.TraceIDKey, in
// the response header, and on every line the request logger writes. The
// websocket channel reads it from the context when a session opens.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if !validTraceID(traceID) {
			buf := make([]byte, 4)
			rand.Read(buf)
			traceID = hex.EncodeToString(buf)
		}

		ctx := kit.WithTraceID(r.Context(), traceID)
		w.Header().Set(traceHeader, traceID)

		logger := slog.Default().With(
			"trace_id", traceID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		logger.Info("request")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validTraceID bounds what we accept from the wire: short alphanumeric
// tokens with dashes, nothing that could smuggle log noise.
func validTraceID(id string) bool {
	if len(id) < 4 || len(id) > 64 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return false
		}
	}
	return true
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
