// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticRoutes are paths recorded as-is in metrics.
var staticRoutes = map[string]bool{
	"/":                         true,
	"/pin":                      true,
	"/discover":                 true,
	"/admin/cleanup":            true,
	"/user/stats":               true,
	"/user/created-pins":        true,
	"/user/created-pins/search": true,
	"/user/ghost-pins":          true,
	"/community/stats":          true,
	"/stats":                    true,
	"/health":                   true,
	"/health/fast":              true,
	"/ready":                    true,
	"/metrics":                  true,
}

// pinActions are the known sub-resources under /pin/{id}.
var pinActions = map[string]bool{
	"like":    true,
	"dislike": true,
	"report":  true,
	"passby":  true,
	"stats":   true,
}

// normalizePath converts paths with dynamic segments to route patterns to
// prevent cardinality explosion in metrics. /pin/123/like becomes
// /pin/{id}/like.
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}

	if strings.HasPrefix(path, "/pin/") {
		parts := strings.Split(path, "/")
		// /pin/{id}/like, /pin/{id}/stats, ...
		if len(parts) == 4 && pinActions[parts[3]] {
			return "/pin/{id}/" + parts[3]
		}
		// /pin/{id}
		if len(parts) == 3 && parts[2] != "" {
			return "/pin/{id}"
		}
	}

	// Fallback: return as-is for unknown patterns
	// This ensures we don't accidentally break metrics for new routes
	return path
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

// newMetricsResponseWriter creates a new metricsResponseWriter with default 200 status.
func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// HTTPMetrics is a middleware that records HTTP request metrics.
// Health check endpoints (/health, /ready) are excluded from metrics to
// avoid cardinality issues.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := newMetricsResponseWriter(w)

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
			)
		})
	}
}
