package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/frahmantamala/shop-orders/internal"
	"github.com/frahmantamala/shop-orders/internal/transport"
	"github.com/frahmantamala/shop-orders/pkg/logger"
)

// RecoveryMiddleware answers a panicking handler with a generic 500. The panic value and stack
// go to the log only. http.ErrAbortHandler is re-raised so net/http can drop the connection.
func RecoveryMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	writer := transport.NewBaseHandler(base)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				l := base
				if logger.TraceID(r.Context()) != "" {
					l = logger.From(r.Context())
				}
				l.Error("panic recovered",
					"error", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()))

				status, body := internal.NewInternalError("Internal server error", nil).ToHTTPResponse()
				writer.WriteJSON(w, status, body)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
