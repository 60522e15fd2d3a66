package clog

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// SlogChiMiddleware emits one access log line per request, leveled by
// status code. It also seeds the context attribute bag, so anything a
// handler logs during the request carries the request fields too.
func SlogChiMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			ctx := ContextWithSlog(r.Context())
			AddAttributes(ctx, map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
				"proto":  r.Proto,
			})

			next.ServeHTTP(ww, r.WithContext(ctx))

			AddAttributes(ctx, map[string]any{
				"status":   ww.Status(),
				"bytes":    ww.BytesWritten(),
				"duration": time.Since(start),
			})
			lvl := HTTPStatusToLevel(ww.Status()).Slog()
			slog.Log(ctx, lvl, http.StatusText(ww.Status()))
		})
	}
}
