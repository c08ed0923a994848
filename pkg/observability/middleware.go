package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MetricsMiddleware wraps an HTTP handler to record request metrics.
//
// It captures:
//   - proxified_requests_total (counter): per request with method, route, and status class labels
//   - proxified_request_duration_seconds (histogram): request duration with method and route labels
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := RouteLabel(r.URL.Path)
		statusStr := strconv.Itoa(sw.status/100) + "xx"

		RequestsTotal.WithLabelValues(r.Method, route, statusStr).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// RouteLabel collapses container ids out of a request path so the route
// label keeps a bounded cardinality.
func RouteLabel(path string) string {
	const containers = "/v1/containers/"

	switch {
	case path == "/v1/containers", path == "/v1/proxies/parse",
		path == "/healthz", path == "/readyz", path == "/metrics":
		return path
	case strings.HasPrefix(path, "/mcp"):
		return "/mcp"
	case strings.HasPrefix(path, containers):
		rest := strings.TrimPrefix(path, containers)
		if strings.HasSuffix(rest, "/proxy") {
			return containers + "{id}/proxy"
		}
		return containers + "{id}"
	default:
		return "other"
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

// WriteHeader captures the status code and delegates to the underlying writer.
func (w *statusWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

// Write delegates to the underlying writer and marks the status as written.
func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

// Flush delegates to the underlying writer if it implements http.Flusher.
// The MCP streamable transport flushes event streams through it.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter, enabling http.ResponseController
// and similar utilities to access the original writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
