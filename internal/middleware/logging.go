package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/s3-console/internal/config"
)

// LoggingMiddleware wraps handlers with access logging.
func LoggingMiddleware(logger *logrus.Logger, cfg *config.LoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := wrapResponseWriter(w)
			next.ServeHTTP(rw, r)

			logEntry := createLogEntry(r, rw, time.Since(start), cfg)

			switch cfg.AccessLogFormat {
			case "json":
				logJSON(logger, logEntry)
			case "clf":
				logCLF(logger, logEntry)
			default:
				logDefault(logger, logEntry)
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

// wrapResponseWriter returns w itself when it is already wrapped so the
// middlewares in a chain share one status.
func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// LogEntry represents a structured access log entry.
type LogEntry struct {
	Timestamp  string            `json:"timestamp"`
	RequestID  string            `json:"request_id,omitempty"`
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Route      string            `json:"route,omitempty"`
	Query      string            `json:"query,omitempty"`
	ClientIP   string            `json:"client_ip"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Status     int               `json:"status"`
	DurationMs int64             `json:"duration_ms"`
	Bytes      int64             `json:"bytes"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// createLogEntry creates a log entry with header redaction.
func createLogEntry(r *http.Request, rw *responseWriter, duration time.Duration, cfg *config.LoggingConfig) *LogEntry {
	entry := &LogEntry{
		Timestamp:  time.Now().Format(time.RFC3339),
		RequestID:  RequestID(r.Context()),
		Method:     r.Method,
		Path:       r.URL.Path,
		Route:      routeTemplate(r),
		Query:      redactQuery(r.URL.RawQuery),
		ClientIP:   ClientIP(r),
		UserAgent:  r.UserAgent(),
		Status:     rw.statusCode,
		DurationMs: duration.Milliseconds(),
		Bytes:      rw.bytesWritten,
	}

	if cfg.AccessLogFormat == "json" {
		entry.Headers = make(map[string]string)
		for name, values := range r.Header {
			lowerName := strings.ToLower(name)
			if shouldRedactHeader(lowerName, cfg.RedactHeaders) {
				entry.Headers[lowerName] = "[REDACTED]"
			} else {
				entry.Headers[lowerName] = strings.Join(values, ",")
			}
		}
	}

	return entry
}

// shouldRedactHeader checks if a header should be redacted.
func shouldRedactHeader(headerName string, redactHeaders []string) bool {
	for _, redact := range redactHeaders {
		if strings.EqualFold(redact, headerName) {
			return true
		}
	}
	return false
}

// redactQuery hides verification and reset tokens passed in the query string.
func redactQuery(raw string) string {
	if raw == "" || !strings.Contains(raw, "token") {
		return raw
	}
	parts := strings.Split(raw, "&")
	for i, p := range parts {
		name, _, _ := strings.Cut(p, "=")
		if strings.Contains(strings.ToLower(name), "token") {
			parts[i] = name + "=[REDACTED]"
		}
	}
	return strings.Join(parts, "&")
}

// routeTemplate returns the matched mux path template, or "" when no route matched.
func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	tpl, err := route.GetPathTemplate()
	if err != nil {
		return ""
	}
	return tpl
}

func logDefault(logger *logrus.Logger, entry *LogEntry) {
	fields := logrus.Fields{
		"method":      entry.Method,
		"path":        entry.Path,
		"client_ip":   entry.ClientIP,
		"status":      entry.Status,
		"duration_ms": entry.DurationMs,
		"bytes":       entry.Bytes,
	}

	if entry.RequestID != "" {
		fields["request_id"] = entry.RequestID
	}
	if entry.Query != "" {
		fields["query"] = entry.Query
	}
	if entry.UserAgent != "" {
		fields["user_agent"] = entry.UserAgent
	}

	logger.WithFields(fields).Info("HTTP request")
}

func logJSON(logger *logrus.Logger, entry *LogEntry) {
	if jsonData, err := json.Marshal(entry); err == nil {
		logger.WithField("json", string(jsonData)).Info("HTTP request")
	} else {
		logDefault(logger, entry)
	}
}

// logCLF logs in Common Log Format.
func logCLF(logger *logrus.Logger, entry *LogEntry) {
	// %h %l %u %t "%r" %>s %b
	target := entry.Path
	if entry.Query != "" {
		target += "?" + entry.Query
	}
	clf := fmt.Sprintf(`%s - - [%s] "%s %s HTTP/1.1" %d %d`,
		entry.ClientIP,
		entry.Timestamp,
		entry.Method,
		target,
		entry.Status,
		entry.Bytes,
	)

	logger.WithField("clf", clf).Info("HTTP request")
}
