package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"complete/internal/logging"
)

// requestLogLevel returns the level for one request. ?log= wins over the
// X-Log-Level header, which wins over def. "1" is shorthand for debug.
func requestLogLevel(r *http.Request, def zerolog.Level) zerolog.Level {
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return zerolog.DebugLevel
		}
		return logging.ParseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return logging.ParseLevel(v)
	}
	return def
}

// instrument records Prometheus metrics and logs one line per request.
func instrument(opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			inflight := httpInflight.WithLabelValues(r.URL.Path)
			inflight.Inc()
			defer inflight.Dec()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			path := routePatternOrPath(r)
			label := itoa(status)
			dur := time.Since(start)
			httpRequestsTotal.WithLabelValues(path, r.Method, label).Inc()
			httpRequestDuration.WithLabelValues(path, r.Method, label).Observe(dur.Seconds())

			lvl := requestLogLevel(r, opts.LogLevel)
			if lvl == zerolog.Disabled || lvl > zerolog.InfoLevel {
				return
			}
			ev := opts.Logger.Info()
			if status >= 500 {
				ev = opts.Logger.Error()
			}
			ev = ev.Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Dur("dur", dur)
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				ev = ev.Str("request_id", rid)
			}
			ev.Msg("request")
		})
	}
}
