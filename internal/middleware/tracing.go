package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "s3-console"

// TracingMiddleware wraps handlers with OpenTelemetry tracing. Spans are
// named after the matched route template. With redactSensitive set,
// object keys, query strings and credential headers are recorded as [REDACTED].
func TracingMiddleware(redactSensitive bool) func(http.Handler) http.Handler {
	tracer := otel.Tracer(tracerName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			route := routeTemplate(r)
			ctx, span := tracer.Start(ctx, getSpanName(r.Method, route),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPMethod(r.Method),
					semconv.HTTPTarget(r.URL.Path),
					semconv.HTTPRoute(route),
					attribute.String("http.host", r.Host),
					attribute.String("http.user_agent", r.UserAgent()),
					attribute.String("http.client_ip", ClientIP(r)),
				),
			)

			if id := RequestID(r.Context()); id != "" {
				span.SetAttributes(attribute.String("http.request_id", id))
			}

			if r.URL.RawQuery != "" {
				if redactSensitive {
					span.SetAttributes(attribute.String("http.query", "[REDACTED]"))
				} else {
					span.SetAttributes(attribute.String("http.query", r.URL.RawQuery))
				}
			}

			if key := objectKeyFromQuery(r.URL); key != "" {
				if redactSensitive {
					span.SetAttributes(attribute.String("s3.key", "[REDACTED]"))
				} else {
					span.SetAttributes(attribute.String("s3.key", key))
				}
			}

			addHeadersToSpan(span, r.Header, redactSensitive)

			rw := wrapResponseWriter(w)

			defer func() {
				span.SetAttributes(semconv.HTTPStatusCode(rw.statusCode))
				if rw.statusCode >= 500 {
					span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
				} else {
					span.SetStatus(codes.Ok, "")
				}
				span.End()
			}()

			next.ServeHTTP(rw, r.WithContext(ctx))
		})
	}
}

// objectKeyFromQuery returns the object key or prefix a request targets.
func objectKeyFromQuery(u *url.URL) string {
	q := u.Query()
	if key := q.Get("key"); key != "" {
		return key
	}
	return q.Get("prefix")
}

func getSpanName(method, route string) string {
	if route == "" {
		return "HTTP " + method
	}
	return method + " " + route
}

// addHeadersToSpan adds relevant headers to the span, redacting sensitive ones.
func addHeadersToSpan(span trace.Span, headers http.Header, redactSensitive bool) {
	safeHeaders := []string{
		"content-type",
		"content-length",
		"accept",
		"origin",
		"referer",
	}

	sensitiveHeaders := []string{
		"authorization",
		"cookie",
	}

	for _, header := range safeHeaders {
		if value := headers.Get(header); value != "" {
			span.SetAttributes(attribute.String("http.request.header."+header, value))
		}
	}

	for _, header := range sensitiveHeaders {
		value := headers.Get(header)
		if value == "" {
			continue
		}
		if redactSensitive {
			value = "[REDACTED]"
		} else if header == "authorization" {
			// keep the scheme only
			scheme, _, _ := strings.Cut(value, " ")
			value = scheme + " ..."
		}
		span.SetAttributes(attribute.String("http.request.header."+header, value))
	}
}
