package api

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/pdfzip/internal/observability"
)

// RequestLogger logs one line per request and carries chi's request ID into
// the context so downstream loggers pick it up.
func RequestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := observability.ContextWithRequestID(r.Context(), chimiddleware.GetReqID(r.Context()))
			r = r.WithContext(ctx)

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			// Deferred so aborted streams are logged too.
			defer func() {
				logger.WithContext(ctx).Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Int("status", ww.Status()).
					Bytes("bytes", int64(ww.BytesWritten())).
					Dur("duration", time.Since(start)).
					Msg("Request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
