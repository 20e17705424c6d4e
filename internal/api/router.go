package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kenneth/s3-console/internal/config"
	"github.com/kenneth/s3-console/internal/middleware"
)

// RouterConfig selects the middleware wrapped around the API.
type RouterConfig struct {
	Logging           config.LoggingConfig
	AllowedOrigins    []string
	TrustProxyHeaders bool
	Tracing           bool
	RedactSensitive   bool
}

// NewRouter builds the complete HTTP handler: routes, per-route middleware
// and the outer request pipeline.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	router := mux.NewRouter()

	var routeMiddleware []mux.MiddlewareFunc
	if h.metrics != nil {
		routeMiddleware = append(routeMiddleware, middleware.MetricsMiddleware(h.metrics))
	}
	routeMiddleware = append(routeMiddleware, middleware.LoggingMiddleware(h.logger, &cfg.Logging))
	if cfg.Tracing {
		routeMiddleware = append(routeMiddleware, middleware.TracingMiddleware(cfg.RedactSensitive))
	}
	router.Use(routeMiddleware...)

	h.RegisterRoutes(router)

	// mux skips Use middleware for unmatched requests
	wrap := func(next http.Handler) http.Handler {
		for i := len(routeMiddleware) - 1; i >= 0; i-- {
			next = routeMiddleware[i](next)
		}
		return next
	}
	router.NotFoundHandler = wrap(NotFoundHandler())
	router.MethodNotAllowedHandler = wrap(MethodNotAllowedHandler())

	var handler http.Handler = router
	handler = limit(h.limiters.General)(handler)
	handler = middleware.CORSMiddleware(cfg.AllowedOrigins)(handler)
	handler = middleware.SecurityHeadersMiddleware()(handler)
	handler = middleware.RequestContextMiddleware(cfg.TrustProxyHeaders)(handler)
	handler = middleware.RecoveryMiddleware(h.logger)(handler)
	return handler
}
