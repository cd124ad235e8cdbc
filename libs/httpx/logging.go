package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

type routeKey struct{}

// routeHolder carries the matched pattern back out through layers that hand a copy of the
// request to their handler, such as http.TimeoutHandler. The mux sets Pattern on the copy only.
type routeHolder struct {
	pattern atomic.Pointer[string]
}

// trackRoute returns r with a routeHolder in its context, reusing one set further out.
func trackRoute(r *http.Request) (*http.Request, *routeHolder) {
	if h, ok := r.Context().Value(routeKey{}).(*routeHolder); ok {
		return r, h
	}
	h := &routeHolder{}
	return r.WithContext(context.WithValue(r.Context(), routeKey{}, h)), h
}

// route records r.Pattern when this layer saw the match and returns the best known pattern.
func (h *routeHolder) route(r *http.Request) string {
	if r.Pattern != "" {
		p := r.Pattern
		h.pattern.Store(&p)
		return p
	}
	if p := h.pattern.Load(); p != nil {
		return *p
	}
	return ""
}

type statusCapturingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusCapturingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusCapturingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

// WithAccessLog logs one line per request. The matched route pattern is logged instead of the
// raw path so appointment ids do not explode log cardinality. Behind a layer that copies the
// request the pattern is known only if WithObserver sits between that layer and the mux.
func WithAccessLog(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusCapturingResponseWriter{ResponseWriter: w}
			r, holder := trackRoute(r)

			next.ServeHTTP(sw, r)

			route := holder.route(r)
			if route == "" {
				route = r.URL.Path
			}
			level := slog.LevelInfo
			if sw.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http request",
				"request_id", RequestIDFromContext(r.Context()),
				"method", r.Method,
				"route", route,
				"status", sw.status,
				"bytes", sw.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// WithObserver reports the matched route, status and latency of each request to observe.
func WithObserver(observe func(route string, r *http.Request, status int, elapsed time.Duration)) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusCapturingResponseWriter{ResponseWriter: w}
			r, holder := trackRoute(r)
			next.ServeHTTP(sw, r)

			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			route := holder.route(r)
			if route == "" {
				route = "unmatched"
			}
			observe(route, r, status, time.Since(start))
		})
	}
}
