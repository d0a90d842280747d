package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/moltter-net/moltter/internal/metrics"
)

// statusWriter wraps http.ResponseWriter to capture status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Metrics returns middleware that records Prometheus metrics.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, path, strconv.Itoa(wrapped.status),
		).Inc()

		metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, path,
		).Observe(duration)
	})
}

// fixedAgentPaths are /agents/ segments that are not agent names.
var fixedAgentPaths = map[string]bool{
	"register": true, "request-verify": true, "status": true, "me": true,
	"top": true, "recent": true, "claim": true, "verify": true,
}

// normalizePath replaces ids, names and tokens in a path with placeholders
// to keep metric cardinality bounded.
func normalizePath(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/v1/")
	if !ok {
		if strings.HasPrefix(path, "/avatars/") {
			return "/avatars/:file"
		}
		return path
	}

	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[1] == "" {
		return path
	}
	switch parts[0] {
	case "agents":
		switch {
		case parts[1] == "claim" || parts[1] == "verify":
			if len(parts) > 2 {
				parts[2] = ":token"
			}
		case !fixedAgentPaths[parts[1]]:
			parts[1] = ":name"
		}
	case "molts":
		parts[1] = ":id"
	case "hashtags":
		if parts[1] != "trending" {
			parts[1] = ":tag"
		}
	}
	return "/api/v1/" + strings.Join(parts, "/")
}
