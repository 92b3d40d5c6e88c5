package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/imgscout/idgen"
	"github.com/hazyhaar/imgscout/kit"
)

var newTraceID = idgen.Prefixed("trc_", idgen.Default)

// TraceID tags each request with a trc_ id stored under kit.TraceIDKey,
// echoed in X-Trace-ID, and attaches a request-scoped logger under LoggerKey.
func TraceID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := newTraceID()

			ctx := kit.WithTraceID(r.Context(), traceID)
			ctx = kit.WithRemoteAddr(ctx, ExtractIP(r))
			w.Header().Set("X-Trace-ID", traceID)

			l := logger.With("trace_id", traceID, "method", r.Method, "path", r.URL.Path)
			ctx = context.WithValue(ctx, LoggerKey, l)
			l.Debug("shield: request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
