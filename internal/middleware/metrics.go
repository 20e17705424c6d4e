package middleware

import (
	"net/http"
	"time"

	"github.com/kenneth/s3-console/internal/metrics"
)

// MetricsMiddleware records request count, duration and in-flight requests.
// Requests are labelled by mux route template; unmatched paths share one label.
func MetricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.IncrementActiveConnections()
			defer m.DecrementActiveConnections()

			rw := wrapResponseWriter(w)
			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			if route == "" {
				route = "unmatched"
			}
			m.RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
		})
	}
}
