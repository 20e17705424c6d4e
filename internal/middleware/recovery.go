package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/s3-console/internal/response"
)

// RecoveryMiddleware turns a handler panic into a 500 envelope.
func RecoveryMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := wrapResponseWriter(w)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.WithFields(logrus.Fields{
					"panic":      rec,
					"method":     r.Method,
					"path":       r.URL.Path,
					"request_id": RequestID(r.Context()),
					"stack":      string(debug.Stack()),
				}).Error("Handler panicked")

				if !rw.wroteHeader {
					response.JSON(rw, http.StatusInternalServerError, "Internal Server Error", nil)
				}
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
