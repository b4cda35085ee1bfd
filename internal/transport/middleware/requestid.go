package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"

	"github.com/frahmantamala/shop-orders/pkg/logger"
)

const TraceHeader = "X-Trace-ID"

const maxTraceIDLength = 128

// RequestID carries a trace id through the request: the caller's X-Trace-ID when it looks sane,
// chi's request id otherwise, a fresh uuid as a last resort.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := strings.TrimSpace(r.Header.Get(TraceHeader))
		if traceID == "" || len(traceID) > maxTraceIDLength {
			traceID = middleware.GetReqID(r.Context())
		}
		if traceID == "" {
			traceID = uuid.NewString()
		}

		ctx := logger.WithTraceID(r.Context(), traceID)
		w.Header().Set(TraceHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
