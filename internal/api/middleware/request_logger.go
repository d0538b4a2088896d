package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/edvin/ec2-inventory/internal/inventory"
)

// RequestLogger logs one line per request. Requests that ran a synthesis
// also carry its run id, cache lookup result, warning and host counts, and
// whether a refresh was asked for.
func RequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLogger := logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
			report := &inventory.Report{}
			ctx := inventory.WithReport(reqLogger.WithContext(r.Context()), report)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			route := r.URL.Path
			if rctx := chi.RouteContext(ctx); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			ev := reqLogger.Info()
			if status >= http.StatusInternalServerError {
				ev = reqLogger.Warn()
			}
			if report.RunID != "" {
				ev = ev.Str("run_id", report.RunID).
					Str("cache", report.Cache).
					Int("warnings", report.Warnings).
					Int("hosts", report.Hosts).
					Bool("refresh", r.URL.Query().Get("refresh") == "true")
			}
			ev.Str("method", r.Method).
				Str("route", route).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
