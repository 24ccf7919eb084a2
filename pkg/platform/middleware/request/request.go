// Package request carries per-request identity into the context: request IDs,
// the acting principal and an access log line.
package request

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"certstore/pkg/platform/middleware/metadata"
	"certstore/pkg/requestcontext"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderPrincipal = "X-Principal"
)

// RequestID propagates the caller's X-Request-ID or assigns a new one, and
// echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(requestcontext.WithRequestID(r.Context(), id)))
	})
}

// Principal records the X-Principal header as the acting principal. Requests
// without it act as requestcontext.SystemPrincipal.
func Principal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := strings.TrimSpace(r.Header.Get(HeaderPrincipal)); p != "" {
			r = r.WithContext(requestcontext.WithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

// Logger writes one line per request once the response is complete.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			ctx := r.Context()
			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(ctx, level, "http request",
				"request_id", requestcontext.RequestID(ctx),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"client_ip", metadata.ClientIPFromRequest(r),
				"principal", requestcontext.Principal(ctx),
			)
		})
	}
}
